// Package config provides configuration parsing for the resume tools.
//
// The configuration is stored in resume.json at the project root, or in
// resume.toml or resume.yaml when no JSON file exists. This package handles
// loading, saving, and validating configuration.
//
// # Configuration File Structure
//
//	{
//	  "snapshot": {
//	    "format": "json",
//	    "allowDeferred": false
//	  },
//	  "store": {
//	    "dsn": "sqlite:snapshots.db",
//	    "ttl": "24h"
//	  },
//	  "metrics": {
//	    "enabled": true,
//	    "namespace": "resume"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "modules": {
//	    "dir": "modules"
//	  },
//	  "serve": {
//	    "addr": "localhost:7070",
//	    "readOnly": false
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Store:", cfg.Store.DSN)
package config

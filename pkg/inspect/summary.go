package inspect

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/vango-dev/resume/pkg/snapshot"
)

// Summary describes a snapshot without decoding it.
type Summary struct {
	Version     int              `json:"version"`
	Container   string           `json:"container"`
	Epoch       uint64           `json:"epoch"`
	Entries     int              `json:"entries"`
	Holes       int              `json:"holes"`
	Tags        map[string]int   `json:"tags"`
	Roots       []RootInfo       `json:"roots"`
	Subscribers []SubscriberInfo `json:"subscribers"`
	Deferred    []int            `json:"deferred"`
}

// RootInfo is a named root and the entry it points at.
type RootInfo struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Tag   string `json:"tag"`
}

// SubscriberInfo describes a task, computed, or renderer entry.
type SubscriberInfo struct {
	Index    int       `json:"index"`
	Kind     string    `json:"kind"`
	Module   string    `json:"module"`
	Export   string    `json:"export"`
	Captured int       `json:"captured"`
	Stale    bool      `json:"stale,omitempty"`
	Deps     []DepInfo `json:"deps"`
}

// DepInfo is one recorded dependency of a subscriber.
type DepInfo struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Key   string `json:"key,omitempty"`
}

var subscriberKinds = map[string]string{
	"T": "task",
	"C": "computed",
	"R": "renderer",
}

// Summarize reads the entry table of snap. It reports malformed subscriber
// entries but does not validate the rest of the graph.
func Summarize(snap *snapshot.Snapshot) (*Summary, error) {
	s := &Summary{
		Version:     snap.Version,
		Container:   snap.Container,
		Epoch:       snap.Epoch,
		Entries:     snap.Len(),
		Tags:        make(map[string]int),
		Roots:       []RootInfo{},
		Subscribers: []SubscriberInfo{},
		Deferred:    append([]int{}, snap.Deferred...),
	}

	for i := 0; i < snap.Len(); i++ {
		tag := snap.Tag(i)
		s.Tags[tag]++
		if tag == "_" {
			s.Holes++
		}
	}

	names := make([]string, 0, len(snap.Roots))
	for name := range snap.Roots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx := snap.Roots[name]
		s.Roots = append(s.Roots, RootInfo{Name: name, Index: idx, Tag: snap.Tag(idx)})
	}

	for _, idx := range snap.Subscribers {
		info, err := subscriberInfo(snap, idx)
		if err != nil {
			return nil, err
		}
		s.Subscribers = append(s.Subscribers, info)
	}
	return s, nil
}

func subscriberInfo(snap *snapshot.Snapshot, idx int) (SubscriberInfo, error) {
	tag := snap.Tag(idx)
	kind, ok := subscriberKinds[tag]
	if !ok {
		return SubscriberInfo{}, fmt.Errorf("inspect: entry %d is %q, not a subscriber", idx, tag)
	}
	p := snap.Payload(idx)
	info := SubscriberInfo{Index: idx, Kind: kind, Deps: []DepInfo{}}

	body, err := p.Index(0)
	if err != nil {
		return info, fmt.Errorf("inspect: entry %d: %w", idx, err)
	}
	if snap.Tag(body) == "q" {
		sym := snap.Payload(body)
		info.Module, _ = sym.String(0)
		info.Export, _ = sym.String(1)
		info.Captured = sym.Len() - 2
	}

	first := 1
	if tag == "C" {
		info.Stale, _ = p.Bool(2)
		first = 3
	}
	for i := first; i+1 < p.Len(); i += 2 {
		src, err := p.Index(i)
		if err != nil {
			return info, fmt.Errorf("inspect: entry %d: %w", idx, err)
		}
		key, _ := p.String(i + 1)
		info.Deps = append(info.Deps, DepInfo{Index: src, Tag: snap.Tag(src), Key: key})
	}
	return info, nil
}

// WriteText writes a human-readable form of the summary.
func (s *Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "container\t%s\n", s.Container)
	fmt.Fprintf(tw, "version\t%d\n", s.Version)
	fmt.Fprintf(tw, "epoch\t%d\n", s.Epoch)
	fmt.Fprintf(tw, "entries\t%d (%d holes)\n", s.Entries, s.Holes)

	tags := make([]string, 0, len(s.Tags))
	for tag := range s.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(tw, "  %s\t%d\n", tag, s.Tags[tag])
	}

	fmt.Fprintln(tw, "roots")
	for _, r := range s.Roots {
		fmt.Fprintf(tw, "  %s\t#%d\t%s\n", r.Name, r.Index, r.Tag)
	}
	fmt.Fprintln(tw, "subscribers")
	for _, sub := range s.Subscribers {
		fmt.Fprintf(tw, "  #%d\t%s\t%s#%s\t%d deps\n", sub.Index, sub.Kind, sub.Module, sub.Export, len(sub.Deps))
	}
	if len(s.Deferred) > 0 {
		fmt.Fprintf(tw, "deferred\t%v\n", s.Deferred)
	}
	return tw.Flush()
}

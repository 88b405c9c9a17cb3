// Package document embeds snapshots in HTML documents and reads them back.
//
// A snapshot travels inside a script element whose type keeps browsers from
// executing it:
//
//	<script type="resume/json" data-container="c1">{"v":1,...}</script>
//
// The data-container attribute names the container anchor, so one document
// can carry several independent containers. The JSON body is HTML-escaped so
// that string values containing "</script>" cannot end the element early.
//
// Write emits the element on its own. Embed parses a full document with
// golang.org/x/net/html and places the element at the end of the body,
// replacing an earlier element for the same anchor. Read and ReadAll parse a
// document and return the snapshots it carries.
package document

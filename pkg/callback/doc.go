// Package callback names the positional parameters of server callbacks.
//
// Production tables are embedded YAML files keyed by callback method name.
// A Namer serves names from a table and, when learning is enabled, records
// positions the table does not cover in a separate overlay. The overlay can
// be exported as YAML and promoted into a new table version after review;
// it never changes the production table in place.
package callback

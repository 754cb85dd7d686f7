// Package output renders CLI command results.
//
// Every listing command accepts --output text|json. Text goes through a
// tabwriter so columns line up; JSON is the raw API object, indented, for
// scripts.
package output

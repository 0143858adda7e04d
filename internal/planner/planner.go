// Package planner turns compiled filters, sort terms and pagination windows
// into parameterized single-table SQL statements for one dialect.
package planner

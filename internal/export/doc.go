// Package export runs the monthly ASRS CSV export.
//
// A Job walks a calendar.Range in ascending (year, month) order. For every
// WorkItem it opens a fresh browser session, fills in the query wizard's
// date-range dialog, downloads the CSV export, saves it to the scratch
// directory and, when enabled, mirrors it to the remote store. Items are
// independent: a failure is recorded in the Report and the job moves on.
// Sessions are always closed, and a fixed cooldown separates items.
package export

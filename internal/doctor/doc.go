// Package doctor checks the external tools and files the engines need and
// renders a report for the `doctor` command.
package doctor

// Package service is the request layer between clients and the production
// coordinator. It applies configured defaults, validates and normalizes
// input, and describes results with public audio URLs.
package service

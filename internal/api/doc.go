// Package api contains the HTTP handlers for the account service: session
// lifecycle, profile and media updates, channel profiles, and watch history.
package api

// Package fxledger is a Go client for the wallet node REST API.
package fxledger

// Package model defines the notification record shared by the push
// decoder, the REST client, and the database writer.
package model

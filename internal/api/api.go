// Package api holds the JSON bodies exchanged between the server and client.
package api

import "github.com/jmgilman/go/errors"

type ZipFolderRequest struct {
	Folder      string `json:"folder"`
	ArchiveName string `json:"archive_name,omitempty"`
	Password    string `json:"password,omitempty"`
	// Recursive defaults to true when omitted.
	Recursive *bool  `json:"recursive,omitempty"`
	Format    string `json:"format,omitempty"`
}

func (r ZipFolderRequest) RecursiveOrDefault() bool {
	return r.Recursive == nil || *r.Recursive
}

type UnzipRequest struct {
	Folder      string `json:"folder"`
	ArchiveName string `json:"archive_name"`
	Password    string `json:"password,omitempty"`
	DestDir     string `json:"dest_dir,omitempty"`
	Overwrite   string `json:"overwrite,omitempty"`
}

type UnzipResponse struct {
	Status          string   `json:"status"`
	Archive         string   `json:"archive"`
	ExtractedTo     string   `json:"extracted_to"`
	EntriesTopLevel []string `json:"entries_top_level"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	BasePath        string `json:"base_path"`
	OutPath         string `json:"out_path"`
	LastTokenDigits string `json:"last_token_digits,omitempty"`
}

// ErrorBody is returned for every failed request. Detail repeats the error
// message for clients that only read a single string.
type ErrorBody struct {
	Detail string                `json:"detail"`
	Error  *errors.ErrorResponse `json:"error,omitempty"`
}

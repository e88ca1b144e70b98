package bendload

import (
	"fmt"
	"strings"
)

type QueryError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func (e *QueryError) Error() string {
	text := fmt.Sprintf("code: %d", e.Code)
	if e.Message != "" {
		text += fmt.Sprintf(", message: %s", e.Message)
	}
	if e.Kind != "" {
		text += fmt.Sprintf(", kind: %s", e.Kind)
	}
	return text
}

type DataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type QueryResponse struct {
	ID      string       `json:"id"`
	Session *SessionState `json:"session"`
	Schema  *[]DataField `json:"schema"`
	Data    [][]string   `json:"data"`
	State   string       `json:"state"`
	Error   *QueryError  `json:"error"`

	FinalURI string `json:"final_uri"`
	NextURI  string `json:"next_uri"`
	KillURI  string `json:"kill_uri"`
}

func (r *QueryResponse) ReadFinished() bool {
	return r.NextURI == "" || strings.Contains(r.NextURI, "/final")
}

type QueryRequest struct {
	Session    *SessionState     `json:"session,omitempty"`
	SQL        string            `json:"sql"`
	Pagination *PaginationConfig `json:"pagination,omitempty"`

	StageAttachment *StageAttachmentConfig `json:"stage_attachment,omitempty"`
}

type PaginationConfig struct {
	WaitTime        int64 `json:"wait_time_secs,omitempty"`
	MaxRowsInBuffer int64 `json:"max_rows_in_buffer,omitempty"`
	MaxRowsPerPage  int64 `json:"max_rows_per_page,omitempty"`
}

type SessionState struct {
	Database string            `json:"database,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// StageAttachmentConfig tells the server to source the INSERT's data from a
// staged object instead of an inline VALUES list.
type StageAttachmentConfig struct {
	Location          string            `json:"location"`
	FileFormatOptions map[string]string `json:"file_format_options,omitempty"`
	CopyOptions       map[string]string `json:"copy_options,omitempty"`
}

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"storecast/internal/domain"
	"storecast/internal/engine"
)

// Request payloads

type VerifyRequest struct {
	StoreIDs []string `json:"storeIds" doc:"store identifiers; entries may hold comma or whitespace separated lists"`
}

// Response payloads

type CreateResponse struct {
	Success bool `json:"success"`
	engine.CreateResult
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// Multipart field names of POST /api/create.
const (
	fieldVerifiedUsers = "verifiedUsers"
	fieldStoreIDs      = "storeIds"
	fieldTitle         = "title"
	fieldDepartment    = "department"
	fileTaskCSV        = "taskCsv"
	fileProfileCSV     = "profileCsv"
)

func formValue(form *multipart.Form, key string) string {
	return strings.TrimSpace(formRaw(form, key))
}

// formRaw returns the first value under key as sent.
func formRaw(form *multipart.Form, key string) string {
	if form == nil || len(form.Value[key]) == 0 {
		return ""
	}
	return form.Value[key][0]
}

// formFile returns the first file under key, or nil when none was sent.
func formFile(form *multipart.Form, key string) ([]byte, string, error) {
	if form == nil || len(form.File[key]) == 0 {
		return nil, "", nil
	}
	fh := form.File[key][0]
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, fh.Filename, nil
}

// createRequestFromForm maps the multipart create submission onto the engine.
func createRequestFromForm(form *multipart.Form) (engine.CreateRequest, error) {
	req := engine.CreateRequest{
		Title:      formRaw(form, fieldTitle),
		Department: formValue(form, fieldDepartment),
	}
	if raw := formValue(form, fieldVerifiedUsers); raw != "" {
		var accounts []domain.Account
		if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
			return req, engine.ValidationError{Reason: "invalid verifiedUsers: " + err.Error()}
		}
		req.VerifiedAccounts = accounts
	}
	if raw := formValue(form, fieldStoreIDs); raw != "" {
		var ids []string
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &ids); err != nil {
				return req, engine.ValidationError{Reason: "invalid storeIds: " + err.Error()}
			}
		} else {
			ids = []string{raw}
		}
		req.StoreIDs = ids
	}
	tasks, _, err := formFile(form, fileTaskCSV)
	if err != nil {
		return req, err
	}
	if tasks != nil {
		req.TaskFile = tasks
	}
	profiles, name, err := formFile(form, fileProfileCSV)
	if err != nil {
		return req, err
	}
	req.ProfileFile = profiles
	req.ProfileFilename = name
	return req, nil
}

// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// the files of a data store
type FilesResponse struct {
	Files []FileResponse `json:"files"`
}

type FilesOutput struct {
	Body FilesResponse `doc:"Files in the data store of the caller's group"`
}

// a JSON body that may be absent, in which case the status is 204
type OptionalOutput struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func optionalOutput(v any, present bool) (*OptionalOutput, error) {
	if !present {
		return &OptionalOutput{Status: http.StatusNoContent}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &OptionalOutput{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        data,
	}, nil
}

type TransferOutput struct {
	Body   TransferResponse `doc:"The id of the job processing the transfer"`
	Status int
}

func (service *Service) addDatasetEndpoints(api huma.API) {
	huma.Get(api, "/datasets/", service.listFiles)
	huma.Get(api, "/datasets/find", service.findFiles)
	huma.Post(api, "/datasets/", service.uploadFiles)
	huma.Delete(api, "/datasets/", service.deleteFile)
	huma.Get(api, "/datasets/parsers", service.listParsers)
	huma.Get(api, "/datasets/parser_info", service.getParserInfo)
	huma.Put(api, "/datasets/transfer", service.createTransfer)
}

// handler method listing every file of the caller's data store
func (service *Service) listFiles(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*FilesOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	files, err := caller.store.ListFiles("*")
	if err != nil {
		return nil, httpError(err)
	}
	return &FilesOutput{Body: FilesResponse{Files: fileResponses(files)}}, nil
}

// handler method finding the files of the caller's data store by pattern
// and age
func (service *Service) findFiles(ctx context.Context,
	input *struct {
		Authorization string  `header:"authorization" doc:"Authorization header with a bearer token"`
		Pattern       string  `query:"pattern" example:"*.zip" doc:"A glob pattern matching file names"`
		Recent        float64 `query:"recent" example:"60" doc:"(Optional) Only files modified less than this many minutes ago"`
	}) (*FilesOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	pattern := input.Pattern
	if pattern == "" {
		pattern = "*"
	}
	slog.Debug(fmt.Sprintf("Searching the data store of %s for %s", caller.store.Group(), pattern))
	var files []datastore.FileInfo
	if input.Recent > 0 {
		files, err = caller.store.RecentFiles(pattern, time.Duration(input.Recent*float64(time.Minute)))
	} else {
		files, err = caller.store.ListFiles(pattern)
	}
	if err != nil {
		return nil, httpError(err)
	}
	return &FilesOutput{Body: FilesResponse{Files: fileResponses(files)}}, nil
}

// handler method storing uploaded files in the caller's data store
func (service *Service) uploadFiles(ctx context.Context,
	input *struct {
		Authorization string         `header:"authorization" doc:"Authorization header with a bearer token"`
		Name          string         `query:"name" doc:"(Optional) The name to store a single uploaded file under"`
		RawBody       multipart.Form `doc:"The files to upload"`
	}) (*FilesOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	var uploads []*multipart.FileHeader
	for _, headers := range input.RawBody.File {
		uploads = append(uploads, headers...)
	}
	if len(uploads) == 0 {
		return nil, huma.Error422UnprocessableEntity("No file was uploaded")
	}
	if input.Name != "" && len(uploads) > 1 {
		return nil, huma.Error422UnprocessableEntity("A name can only be given to a single file")
	}

	saved := make([]FileResponse, 0, len(uploads))
	for _, upload := range uploads {
		name := filepath.Base(upload.Filename)
		if input.Name != "" {
			name = input.Name
		}
		f, err := upload.Open()
		if err != nil {
			return nil, httpError(err)
		}
		info, err := caller.store.SaveFile(name, f)
		f.Close()
		if err != nil {
			return nil, httpError(err)
		}
		saved = append(saved, fileResponse(info))
	}
	return &FilesOutput{Body: FilesResponse{Files: saved}}, nil
}

// handler method deleting a file of the caller's data store
func (service *Service) deleteFile(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
		Name          string `query:"name" required:"true" doc:"The name of the file to delete"`
	}) (*MessageOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	if err = caller.store.DeleteFile(input.Name); err != nil {
		return nil, httpError(err)
	}
	return &MessageOutput{
		Body: MessageResponse{Message: fmt.Sprintf("Deleted %s", input.Name)},
	}, nil
}

// handler method listing the parsers of the caller's data store
func (service *Service) listParsers(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*OptionalOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	names := parsers.Names(caller.store.Parsers())
	return optionalOutput(names, len(names) > 0)
}

// handler method describing the parameters of one of the caller's parsers
func (service *Service) getParserInfo(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
		Parser        string `query:"parser" required:"true" example:"icp_ms" doc:"The name of the parser"`
	}) (*OptionalOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	parser, err := caller.store.Parser(input.Parser)
	if err != nil {
		var missing *parsers.NotFoundError
		if errors.As(err, &missing) {
			return optionalOutput(nil, false)
		}
		return nil, httpError(err)
	}
	return optionalOutput(parsers.GenerateParameterSchema(input.Parser, parser), true)
}

// handler method submitting a transfer of one of the caller's files into the
// LIMS
func (service *Service) createTransfer(ctx context.Context,
	input *struct {
		Authorization string                `header:"authorization" doc:"Authorization header with a bearer token"`
		Body          jobs.ParserParameters `doc:"The file, the target and the parser of the transfer"`
	}) (*TransferOutput, error) {

	caller, err := service.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	id, err := service.deps.Jobs.Submit(ctx, jobs.Request{
		Owner:      caller.username,
		Token:      caller.token,
		Store:      caller.store,
		Parameters: input.Body,
	})
	if err != nil {
		return nil, httpError(err)
	}
	return &TransferOutput{
		Body:   TransferResponse{TaskId: id.String()},
		Status: http.StatusAccepted,
	}, nil
}

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

// Package icpms implements the parser for ICP-MS batch archives: zip files
// written by the instrument software whose BatchLog.csv lists the measured
// samples.
package icpms

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// the name the parser is registered under
const Name = "icp_ms"

// columns of the batch log
const (
	sampleNameColumn = "Sample Name"
	resultColumn     = "Acquisition Result"
	commentColumn    = "Comment"
	passed           = "Pass"
)

func init() {
	if err := parsers.Register(Name, New); err != nil {
		panic(err)
	}
}

// Parser stages one LIMS object per successfully acquired sample of a batch.
type Parser struct{}

// creates an ICP-MS parser
func New() parsers.Parser {
	return &Parser{}
}

func (p *Parser) Description() string {
	return "Registers one measurement object per acquired sample of an ICP-MS batch archive"
}

func (p *Parser) Parameters() []parsers.Parameter {
	return []parsers.Parameter{
		parsers.String("collection", "code of the collection receiving the measurements").
			Optional("ICP_MS_MEASUREMENTS"),
		parsers.String("sample_type", "object type of the measurements").
			Optional("ICP_MS_MEASUREMENT"),
		parsers.String("batch_log", "file name of the batch log inside the archive").
			Optional("BatchLog.csv"),
		parsers.String("encoding", "character encoding of the batch log").
			Optional("iso-8859-1"),
	}
}

// a sample listed in the batch log
type Sample struct {
	Name    string
	Comment string
}

func (p *Parser) Process(ctx context.Context, session *openbis.Session, tx *openbis.Transaction,
	dataset parsers.Dataset, args parsers.Arguments) (*openbis.Transaction, error) {
	if len(dataset.Files) == 0 {
		return nil, errors.New("The dataset has no files")
	}
	sampleType := args.String("sample_type")
	exists, err := session.Exists(ctx, openbis.KindObjectType, sampleType)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("The object type %s does not exist", sampleType)
	}

	parsers.ReportProgress(ctx, "Reading %s from %s", args.String("batch_log"), path.Base(dataset.Files[0]))
	samples, err := ReadBatch(dataset.Files[0], args.String("batch_log"), args.String("encoding"))
	if err != nil {
		return nil, err
	}
	parsers.ReportProgress(ctx, "Found %d acquired samples", len(samples))

	project, err := targetProject(ctx, session, dataset)
	if err != nil {
		return nil, err
	}
	collection := openbis.NewCollection(project, args.String("collection"), "COLLECTION")
	collectionRef := collection.Identifier
	exists, err = session.Exists(ctx, openbis.KindCollection, collection.Identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		collectionRef = tx.Create(collection)
		parsers.ReportProgress(ctx, "Creating collection %s", collection.Identifier)
	}

	for _, sample := range samples {
		properties := map[string]any{"$NAME": sample.Name}
		if sample.Comment != "" {
			properties["NOTES"] = sample.Comment
		}
		object := openbis.Entity{
			Kind:       openbis.KindObject,
			Type:       sampleType,
			Collection: collectionRef,
			Properties: properties,
		}
		if dataset.Object != "" {
			object.Parents = []string{dataset.Object}
		}
		tx.Create(object)
	}
	parsers.ReportProgress(ctx, "Staged %d measurements in %s", len(samples), collection.Identifier)
	return tx, nil
}

// returns the identifier of the project holding the dataset's target
func targetProject(ctx context.Context, session *openbis.Session, dataset parsers.Dataset) (string, error) {
	if dataset.Object != "" {
		object, err := session.Get(ctx, openbis.KindObject, dataset.Object)
		if err != nil {
			return "", err
		}
		if object.Project == "" {
			return "", fmt.Errorf("The object %s belongs to no project", dataset.Object)
		}
		return object.Project, nil
	}
	space, project, _ := openbis.SplitIdentifier(dataset.Collection)
	if project == "" {
		return "", fmt.Errorf("Invalid collection identifier: %s", dataset.Collection)
	}
	return "/" + space + "/" + project, nil
}

// reads the acquired samples from the batch log inside the archive
func ReadBatch(archive, batchLog, encoding string) ([]Sample, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open %s as a zip archive: %s", path.Base(archive), err.Error())
	}
	defer zr.Close()
	for _, f := range zr.File {
		if path.Base(f.Name) != batchLog {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return ParseBatchLog(r, encoding)
	}
	return nil, fmt.Errorf("The archive %s holds no %s", path.Base(archive), batchLog)
}

// parses a batch log in the given character encoding
func ParseBatchLog(r io.Reader, encoding string) ([]Sample, error) {
	enc, err := ianaindex.IANA.Encoding(encoding)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("Unsupported encoding: %s", encoding)
	}
	reader := csv.NewReader(enc.NewDecoder().Reader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse the batch log: %s", err.Error())
	}

	header := -1
	columns := make(map[string]int)
	for i, record := range records {
		for j, field := range record {
			if strings.TrimSpace(field) == sampleNameColumn {
				header = i
			}
			columns[strings.TrimSpace(field)] = j
		}
		if header >= 0 {
			break
		}
		clear(columns)
	}
	if header < 0 {
		return nil, fmt.Errorf("The batch log has no '%s' column", sampleNameColumn)
	}

	field := func(record []string, column string) string {
		if j, found := columns[column]; found && j < len(record) {
			return strings.TrimSpace(record[j])
		}
		return ""
	}
	_, hasResult := columns[resultColumn]
	samples := make([]Sample, 0)
	for _, record := range records[header+1:] {
		name := field(record, sampleNameColumn)
		if name == "" {
			continue
		}
		if hasResult && !strings.EqualFold(field(record, resultColumn), passed) {
			continue
		}
		samples = append(samples, Sample{Name: name, Comment: field(record, commentColumn)})
	}
	return samples, nil
}

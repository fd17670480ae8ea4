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

package icpms

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

// a batch log as written by the instrument, with a title line before the
// header and one failed and one unnamed row
const batchLog = `Batch Log,,,,
Vial Number,Sample Name,Comment,Acquisition Time,Acquisition Result
1,Blank,,01.02.2023 10:00,Pass
2,Standard 10 µg/L,calibration,01.02.2023 10:05,Pass
3,Sample A,,01.02.2023 10:10,Fail
4,,,01.02.2023 10:15,Pass
5,Sample B,Zürich river,01.02.2023 10:20,Pass
`

func writeArchive(t *testing.T, log string) string {
	return uploadertest.WriteBatchArchive(t, t.TempDir(), "batch.zip", log)
}

// an in-memory LIMS with a target object /LAB/ICP/TARGET
func newTestSession(t *testing.T) *openbis.Session {
	_, s := uploadertest.NewLims(t, "basi", "password")
	return s
}

func defaultArguments(t *testing.T) parsers.Arguments {
	args, err := parsers.GenerateParameterSchema(Name, New()).Validate(map[string]any{})
	if err != nil {
		t.Fatalf("Couldn't validate default arguments: %s", err)
	}
	return args
}

func TestIsRegistered(t *testing.T) {
	assert := assert.New(t)
	factory, found := parsers.Catalog()[Name]
	assert.True(found)
	schema := parsers.GenerateParameterSchema(Name, factory())
	assert.Equal("ICP_MS_MEASUREMENTS", schema.Parameters["collection"].Default)
	assert.Equal("iso-8859-1", schema.Parameters["encoding"].Default)
}

func TestParseBatchLog(t *testing.T) {
	assert := assert.New(t)
	samples, err := ParseBatchLog(strings.NewReader(batchLog), "utf-8")
	assert.Nil(err)
	assert.Equal([]Sample{
		{Name: "Blank"},
		{Name: "Standard 10 µg/L", Comment: "calibration"},
		{Name: "Sample B", Comment: "Zürich river"},
	}, samples)

	_, err = ParseBatchLog(strings.NewReader("a,b\n1,2\n"), "utf-8")
	assert.NotNil(err)
	_, err = ParseBatchLog(strings.NewReader(batchLog), "klingon")
	assert.NotNil(err)
}

func TestReadBatchDecodesLatin1(t *testing.T) {
	assert := assert.New(t)
	samples, err := ReadBatch(writeArchive(t, batchLog), "BatchLog.csv", "iso-8859-1")
	assert.Nil(err)
	assert.Len(samples, 3)
	assert.Equal("Zürich river", samples[2].Comment)

	_, err = ReadBatch(writeArchive(t, batchLog), "Missing.csv", "iso-8859-1")
	assert.NotNil(err)
	notZip := filepath.Join(t.TempDir(), "batch.zip")
	os.WriteFile(notZip, []byte("plain text"), 0644)
	_, err = ReadBatch(notZip, "BatchLog.csv", "iso-8859-1")
	assert.NotNil(err)
}

func TestProcess(t *testing.T) {
	assert := assert.New(t)
	s := newTestSession(t)
	ctx := context.Background()

	tx := openbis.NewTransaction()
	dataset := parsers.Dataset{
		Files:  []string{writeArchive(t, batchLog)},
		Type:   "RAW_DATA",
		Object: "/LAB/ICP/TARGET",
	}
	dataset.Ref = tx.Create(openbis.Entity{Kind: openbis.KindDataset, Type: "RAW_DATA",
		Object: dataset.Object, Files: dataset.Files})

	var progress []string
	pctx := parsers.WithProgress(ctx, func(m string) { progress = append(progress, m) })
	tx, err := New().Process(pctx, s, tx, dataset, defaultArguments(t))
	assert.Nil(err)
	// dataset, collection and three measurements
	assert.Equal(5, tx.Len())
	assert.NotEmpty(progress)

	// nothing is saved before the commit
	exists, err := s.Exists(ctx, openbis.KindCollection, "/LAB/ICP/ICP_MS_MEASUREMENTS")
	assert.Nil(err)
	assert.False(exists)

	_, err = tx.Commit(ctx, s)
	assert.Nil(err)
	measurements, err := s.Search(ctx, openbis.KindObject,
		openbis.Criteria{Collection: "/LAB/ICP/ICP_MS_MEASUREMENTS"})
	assert.Nil(err)
	assert.Len(measurements, 3)
	names := make([]any, 0)
	for _, m := range measurements {
		assert.Equal("ICP_MS_MEASUREMENT", m.Type)
		assert.Equal([]string{"/LAB/ICP/TARGET"}, m.Parents)
		names = append(names, m.Properties["$NAME"])
	}
	assert.ElementsMatch([]any{"Blank", "Standard 10 µg/L", "Sample B"}, names)

	// a second batch reuses the collection
	tx = openbis.NewTransaction()
	tx, err = New().Process(ctx, s, tx, dataset, defaultArguments(t))
	assert.Nil(err)
	assert.Equal(3, tx.Len())
}

func TestProcessRequiresSampleType(t *testing.T) {
	s := newTestSession(t)
	args := defaultArguments(t)
	args["sample_type"] = "NO_SUCH_TYPE"
	_, err := New().Process(context.Background(), s, openbis.NewTransaction(),
		parsers.Dataset{Files: []string{writeArchive(t, batchLog)}, Object: "/LAB/ICP/TARGET"}, args)
	assert.NotNil(t, err)
}

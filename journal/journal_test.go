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

package journal

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

// temporary testing directory
var testRoot string

func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	uploadertest.EnableDebugLogging()
	var err error
	testRoot, err = os.MkdirTemp(os.TempDir(), "journal-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if testRoot != "" {
		log.Printf("Deleting testing directory %s...\n", testRoot)
		os.RemoveAll(testRoot)
	}
}

func openJournal(t *testing.T) *Journal {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Couldn't open journal: %s", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenAndClose(t *testing.T) {
	assert := assert.New(t)

	dir := filepath.Join(testRoot, "nested", "journal")
	j, err := Open(dir)
	assert.Nil(err)
	assert.FileExists(filepath.Join(dir, DatabaseFile))
	assert.Nil(j.Close())
	assert.Nil(j.Close())

	_, err = j.Get(uuid.New())
	var notOpen *NotOpenError
	assert.True(errors.As(err, &notOpen))
	err = j.Record(Record{Id: uuid.New(), Status: "finished"})
	assert.True(errors.As(err, &notOpen))

	// reopening keeps the schema
	j, err = Open(dir)
	assert.Nil(err)
	assert.Nil(j.Close())
}

func TestRecordFinishedJob(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)

	store := t.TempDir()
	archive := filepath.Join(store, "230201 Batch.zip")
	contents := []byte("not really a zip archive")
	assert.Nil(os.WriteFile(archive, contents, 0644))
	manifest, err := NewManifest(store, "basi", []string{archive})
	assert.Nil(err)

	start := time.Now()
	record := Record{
		Id:        uuid.New(),
		Owner:     "basi",
		Group:     "lab",
		Parser:    "icp_ms",
		Source:    "230201 Batch.zip",
		Target:    "/LAB/ICP/TARGET",
		Status:    "finished",
		Result:    "20230201000000000-1",
		StartTime: start,
		StopTime:  start.Add(3 * time.Second),
		Manifest:  manifest,
	}
	assert.Nil(j.Record(record))

	got, err := j.Get(record.Id)
	assert.Nil(err)
	assert.Equal(record.Id, got.Id)
	assert.Equal(record.Owner, got.Owner)
	assert.Equal(record.Group, got.Group)
	assert.Equal(record.Parser, got.Parser)
	assert.Equal(record.Source, got.Source)
	assert.Equal(record.Target, got.Target)
	assert.Equal(record.Status, got.Status)
	assert.Equal(record.Result, got.Result)
	assert.True(record.StartTime.Equal(got.StartTime))
	assert.True(record.StopTime.Equal(got.StopTime))

	assert.NotNil(got.Manifest)
	assert.Equal([]string{"230201_batch.zip"}, got.Manifest.ResourceNames())
	resource := got.Manifest.GetResource("230201_batch.zip")
	assert.NotNil(resource)
	sum := md5.Sum(contents)
	assert.Equal(hex.EncodeToString(sum[:]), resource.Descriptor()["hash"])
	assert.Equal("230201 Batch.zip", resource.Descriptor()["path"])
	assert.EqualValues(len(contents), resource.Descriptor()["bytes"])

	// ids are unique
	err = j.Record(record)
	var newRecord *NewRecordError
	assert.True(errors.As(err, &newRecord))
}

func TestRecordFailedJob(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)

	record := Record{
		Id:        uuid.New(),
		Owner:     "basi",
		Group:     "lab",
		Parser:    "icp_ms",
		Source:    "broken.zip",
		Target:    "/LAB/ICP/ENTRIES",
		Status:    "failed",
		Result:    "zip: not a valid zip file",
		StartTime: time.Now(),
		StopTime:  time.Now(),
	}
	assert.Nil(j.Record(record))
	got, err := j.Get(record.Id)
	assert.Nil(err)
	assert.Equal("failed", got.Status)
	assert.Equal(record.Result, got.Result)
	assert.Nil(got.Manifest)
}

func TestRejectsUnfinishedJobs(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)

	for _, status := range []string{"queued", "in-progress", "stopped", ""} {
		err := j.Record(Record{Id: uuid.New(), Status: status})
		var newRecord *NewRecordError
		assert.True(errors.As(err, &newRecord), status)
	}
}

func TestGetUnknownRecord(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)

	id := uuid.New()
	_, err := j.Get(id)
	var notFound *RecordNotFoundError
	assert.True(errors.As(err, &notFound))
	assert.Equal(id, notFound.Id)
}

func TestRecordsInTimeRange(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		start := base.Add(time.Duration(i) * time.Hour)
		assert.Nil(j.Record(Record{
			Id:        ids[i],
			Status:    "finished",
			StartTime: start,
			StopTime:  start.Add(30 * time.Minute),
		}))
	}

	records, err := j.Records(base.Add(time.Hour), base.Add(3*time.Hour))
	assert.Nil(err)
	// the last job started inside the range but stopped after it
	assert.Len(records, 2)
	assert.Equal(ids[1], records[0].Id)
	assert.Equal(ids[2], records[1].Id)

	records, err = j.Records(base.Add(24*time.Hour), base.Add(48*time.Hour))
	assert.Nil(err)
	assert.Empty(records)
}

func TestResourceNames(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("batchlog.csv", resourceName("/data/BatchLog.csv"))
	assert.Equal("run_1_final_.zip", resourceName("run 1 (final).zip"))
}

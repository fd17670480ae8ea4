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

package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

const wipeReason = "Wiped by the instance configurator"

// deletes the subtree below (and including) the node from, children before
// parents. Sacred and system-registered entities are kept, and so are the
// ancestors of anything kept, since a container can't go before its
// content. Entities that no longer exist are ignored.
func Wipe(ctx context.Context, session *openbis.Session, t *Tree, from NodeID) (Report, error) {
	report := Report{Tree: t}
	// nodes whose subtree keeps something
	keeps := make(map[NodeID]bool)
	protect := func(id NodeID) {
		for n, ok := id, true; ok; n, ok = t.Parent(n) {
			keeps[n] = true
		}
	}
	var failed []string
	var firstErr error
	for _, id := range t.PostOrder(from) {
		if id == Root {
			continue
		}
		n := t.nodes[id]
		identifier := t.Identifier(id)
		if keeps[id] || t.isSacred(id) {
			protect(id)
			report.Unchanged++
			continue
		}
		if n.Registrator == "" {
			e, err := session.Get(ctx, n.Kind, identifier)
			var notFound *openbis.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			if err != nil {
				return report, err
			}
			if IsSacred(e) {
				protect(id)
				report.Unchanged++
				continue
			}
		}
		err := session.Delete(ctx, n.Kind, identifier, wipeReason)
		var notFound *openbis.NotFoundError
		switch {
		case err == nil:
			report.Changed++
			slog.Debug(fmt.Sprintf("Wiped %s %s", n.Kind, identifier))
		case errors.As(err, &notFound):
		default:
			slog.Warn(fmt.Sprintf("Couldn't wipe %s %s: %s", n.Kind, identifier, err.Error()))
			failed = append(failed, identifier)
			if firstErr == nil {
				firstErr = err
			}
			protect(id)
		}
	}
	slog.Info(fmt.Sprintf("Wiped %d entities below %s, kept %d", report.Changed,
		t.Identifier(from), report.Unchanged))
	if len(failed) > 0 {
		return report, &WipeError{Failed: failed, Err: firstErr}
	}
	return report, nil
}

// deletes the types a description declares: object, collection and dataset
// types first, then the property types they were using. Sacred types and
// types still in use are kept.
func WipeTypes(ctx context.Context, session *openbis.Session, d *Description) (Report, error) {
	var report Report
	type entry struct {
		kind openbis.Kind
		code string
	}
	entries := make([]entry, 0)
	for _, t := range d.ObjectTypes {
		entries = append(entries, entry{openbis.KindObjectType, t.Code})
	}
	for _, t := range d.CollectionTypes {
		entries = append(entries, entry{openbis.KindCollectionType, t.Code})
	}
	for _, t := range d.DatasetTypes {
		entries = append(entries, entry{openbis.KindDatasetType, t.Code})
	}
	for _, t := range d.PropertyTypes {
		entries = append(entries, entry{openbis.KindPropertyType, t.Code})
	}
	for _, en := range entries {
		e, err := session.Get(ctx, en.kind, en.code)
		var notFound *openbis.NotFoundError
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return report, err
		}
		if IsSacred(e) {
			report.Unchanged++
			continue
		}
		err = session.Delete(ctx, en.kind, e.Identifier, wipeReason)
		var invalid *openbis.InvalidEntityError
		switch {
		case err == nil:
			report.Changed++
		case errors.As(err, &invalid):
			slog.Warn(fmt.Sprintf("Keeping %s %s: %s", en.kind, en.code, invalid.Message))
			report.Unchanged++
		default:
			return report, err
		}
	}
	return report, nil
}

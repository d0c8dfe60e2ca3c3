// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package sofa

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"gitlab.com/flimzy/testy"
)

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestChangesFeedStream(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader(
		`{"seq":"1-x","id":"a","changes":[{"rev":"1-a"}]}` + "\n" +
			"\n" +
			`{"seq":"2-x","id":"b","changes":[{"rev":"2-b"}],"deleted":true}` + "\n" +
			`{"last_seq":42,"pending":0}` + "\n",
	)}
	var query string
	c := newCustomClient(t, func(req *http.Request) (*http.Response, error) {
		query = req.URL.RawQuery
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	})
	feed, err := c.DB("db").ChangesFeed(context.Background(), Param("heartbeat", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if query != "feed=continuous&heartbeat=1000" {
		t.Errorf("Unexpected query: %s", query)
	}
	var got []ChangeEvent
	for feed.Next() {
		got = append(got, feed.Change())
	}
	if err := feed.Err(); err != nil {
		t.Fatal(err)
	}
	want := []ChangeEvent{
		{Seq: "1-x", ID: "a", Changes: []ChangeRev{{Rev: "1-a"}}},
		{Seq: "2-x", ID: "b", Changes: []ChangeRev{{Rev: "2-b"}}, Deleted: true},
		{LastSeq: "42"},
	}
	if d := testy.DiffInterface(want, got); d != nil {
		t.Error(d)
	}
	if !got[2].IsLastSeq() || got[1].IsLastSeq() {
		t.Error("Only the final event should be the last_seq entry")
	}
	if body.closed != 1 {
		t.Errorf("Body closed %d times", body.closed)
	}
	_ = feed.Close()
	if body.closed != 1 {
		t.Errorf("Body closed %d times after a second Close", body.closed)
	}
}

func TestChangesFeedTermination(t *testing.T) {
	type tt struct {
		body    string
		reads   int // 0 reads until Next returns false
		want    []ChangeEvent
		drained bool
	}

	tests := testy.NewTable()
	tests.Add("events after last_seq", tt{
		body: `{"seq":"1-x","id":"a","changes":[{"rev":"1-a"}]}` + "\n" +
			`{"last_seq":"1-x","pending":0}` + "\n" +
			`{"seq":"2-x","id":"b","changes":[{"rev":"1-b"}]}` + "\n" +
			"\n\n",
		want: []ChangeEvent{
			{Seq: "1-x", ID: "a", Changes: []ChangeRev{{Rev: "1-a"}}},
			{LastSeq: "1-x"},
		},
		drained: true,
	})
	tests.Add("early close", tt{
		body: `{"seq":"1-x","id":"a","changes":[{"rev":"1-a"}]}` + "\n" +
			`{"seq":"2-x","id":"b","changes":[{"rev":"1-b"}]}` + "\n" +
			`{"last_seq":"2-x","pending":0}` + "\n",
		reads: 1,
		want: []ChangeEvent{
			{Seq: "1-x", ID: "a", Changes: []ChangeRev{{Rev: "1-a"}}},
		},
	})
	tests.Add("eof without last_seq", tt{
		body: `{"seq":"1-x","id":"a","changes":[{"rev":"1-a"}]}` + "\n",
		want: []ChangeEvent{
			{Seq: "1-x", ID: "a", Changes: []ChangeRev{{Rev: "1-a"}}},
		},
		drained: true,
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		r := strings.NewReader(tt.body)
		body := &closeRecorder{Reader: r}
		c := newCustomClient(t, func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
		})
		feed, err := c.DB("db").ChangesFeed(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		var got []ChangeEvent
		for (tt.reads == 0 || len(got) < tt.reads) && feed.Next() {
			got = append(got, feed.Change())
		}
		if err := feed.Close(); err != nil {
			t.Fatal(err)
		}
		if feed.Next() {
			t.Error("Next succeeded after Close")
		}
		if err := feed.Err(); err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(tt.want, got); d != nil {
			t.Error(d)
		}
		if body.closed != 1 {
			t.Errorf("Body closed %d times", body.closed)
		}
		if tt.drained && r.Len() != 0 {
			t.Errorf("%d bytes left unread", r.Len())
		}
	})
}

func TestChangesFeedMalformed(t *testing.T) {
	c := newTestClient(t, jsonResponse(http.StatusOK, `{"seq":"1","id":"a"}`+"\n"+`{"seq":`), nil)
	feed, err := c.DB("db").ChangesFeed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !feed.Next() {
		t.Fatal(feed.Err())
	}
	if feed.Next() {
		t.Fatal("Expected the malformed line to end the feed")
	}
	if !errors.Is(feed.Err(), ErrMalformedResponse) {
		t.Errorf("Unexpected error: %v", feed.Err())
	}
}

func TestChangesOptions(t *testing.T) {
	c := newTestClient(t, nil, errors.New("no request expected"))
	db := c.DB("db")
	ctx := context.Background()

	t.Run("continuous with Changes", func(t *testing.T) {
		_, err := db.Changes(ctx, Param("feed", "continuous"))
		testy.StatusError(t, "continuous feeds must be read with ChangesFeed", http.StatusBadRequest, err)
	})
	t.Run("unknown feed", func(t *testing.T) {
		_, err := db.Changes(ctx, Param("feed", "eventsource"))
		testy.StatusError(t, "unsupported feed type eventsource", http.StatusBadRequest, err)
	})
	t.Run("longpoll with ChangesFeed", func(t *testing.T) {
		_, err := db.ChangesFeed(ctx, Param("feed", "longpoll"))
		testy.StatusError(t, "ChangesFeed reads only continuous feeds, not longpoll", http.StatusBadRequest, err)
	})
}

func TestChangesEventDoc(t *testing.T) {
	e := ChangeEvent{Changes: []ChangeRev{{Rev: "1-a"}, {Rev: "2-b"}}}
	if d := testy.DiffInterface([]string{"1-a", "2-b"}, e.Revs()); d != nil {
		t.Error(d)
	}
	var doc Document
	err := e.ScanDoc(&doc)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestChanges(t *testing.T) {
	t.Parallel()
	_, db := animals(t, 4)
	ctx := context.Background()
	if _, err := db.Delete(ctx, "a01", mustRev(t, db, "a01")); err != nil {
		t.Fatal(err)
	}

	t.Run("normal", func(t *testing.T) {
		resp, err := db.Changes(ctx, Param("since", "1"))
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, e := range resp.Results {
			ids = append(ids, e.ID)
		}
		if d := testy.DiffInterface([]string{"a02", "a03", "a01"}, ids); d != nil {
			t.Error(d)
		}
		if !resp.Results[2].Deleted {
			t.Error("Expected the last change to be a deletion")
		}
		if resp.LastSeq != "5" {
			t.Errorf("Unexpected last seq: %s", resp.LastSeq)
		}
	})
	t.Run("doc ids", func(t *testing.T) {
		resp, err := db.Changes(ctx, Param("doc_ids", []string{"a00", "a03"}), IncludeDocs())
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Results) != 2 {
			t.Fatalf("Unexpected results: %v", resp.Results)
		}
		var a animal
		if err := resp.Results[1].ScanDoc(&a); err != nil {
			t.Fatal(err)
		}
		if a.ID != "a03" || a.Class != "bird" {
			t.Errorf("Unexpected doc: %+v", a)
		}
	})
	t.Run("selector", func(t *testing.T) {
		resp, err := db.Changes(ctx, Param("selector", map[string]interface{}{"class": "mammal"}))
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Results) != 1 || resp.Results[0].ID != "a02" {
			t.Errorf("Unexpected results: %v", resp.Results)
		}
	})
	t.Run("continuous", func(t *testing.T) {
		feed, err := db.ChangesFeed(ctx, Param("since", "3"), Param("timeout", 10))
		if err != nil {
			t.Fatal(err)
		}
		defer feed.Close() // nolint:errcheck
		var ids []string
		var last ChangeEvent
		for feed.Next() {
			last = feed.Change()
			if !last.IsLastSeq() {
				ids = append(ids, last.ID)
			}
		}
		if err := feed.Err(); err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface([]string{"a03", "a01"}, ids); d != nil {
			t.Error(d)
		}
		if last.LastSeq != "5" {
			t.Errorf("Unexpected last seq: %s", last.LastSeq)
		}
	})
}

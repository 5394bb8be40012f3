package breakwater

import (
	"bytes"
	"io"
	"net/http"
)

// maxSnapshotSize bounds how much of a body the cache and dedupe plugins will
// materialize. Larger responses are passed through to the caller untouched and
// simply not shared.
const maxSnapshotSize = 10 * 1024 * 1024

// responseSnapshot is a response captured into an owned buffer. A body stream
// is consumable once; cache and dedupe need to serve the same logical response
// multiple times, so they snapshot it and mint fresh views on demand.
type responseSnapshot struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// snapshotResponse drains resp's body into the snapshot and replaces it with a
// replayable reader, leaving resp usable by the caller. A body larger than
// maxSnapshotSize is not snapshotted: the bytes already read are spliced back
// in front of the remaining stream and a nil snapshot is returned, so the
// caller still receives the full body intact.
func snapshotResponse(resp *http.Response) (*responseSnapshot, error) {
	snap := &responseSnapshot{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
	}

	if resp.Body == nil {
		return snap, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxSnapshotSize {
		resp.Body = splicedBody{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return nil, nil
	}

	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	snap.Body = body
	return snap, nil
}

// splicedBody rejoins bytes read during a snapshot attempt with the rest of
// the original stream, keeping the original body's Close.
type splicedBody struct {
	io.Reader
	io.Closer
}

// Response mints an independent view of the snapshot.
func (s *responseSnapshot) Response() *http.Response {
	return &http.Response{
		StatusCode: s.StatusCode,
		Status:     s.Status,
		Header:     s.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(s.Body)),
	}
}

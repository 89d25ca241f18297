package idcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/aibadge/internal/fetch"
)

// DefaultListURL is the canonical list of identifiers known to carry an AI
// generated content disclosure.
const DefaultListURL = "https://raw.githubusercontent.com/VincentLorenzi/AI-Banner-for-Steam/refs/heads/main/appids.json"

// RemoteList fetches the identifier list over HTTP.
type RemoteList struct {
	URL    string
	Client *fetch.Client
}

// NewRemoteList creates a RemoteList. An empty url selects DefaultListURL.
func NewRemoteList(url string, client *fetch.Client) *RemoteList {
	if url == "" {
		url = DefaultListURL
	}
	return &RemoteList{URL: url, Client: client}
}

// FetchIDs implements Source. A non-200 status or an unparseable payload is
// reported as ErrRemoteList.
func (r *RemoteList) FetchIDs(ctx context.Context) ([]string, error) {
	res, err := r.Client.Get(ctx, r.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteList, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: http %d", ErrRemoteList, res.StatusCode)
	}
	ids, err := ParseIDs(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteList, err)
	}
	return ids, nil
}

// ParseIDs decodes a JSON array of identifiers. Entries may be numbers or
// strings; numbers are rendered in integer form when integral (570 and
// "570" are the same identifier). Empty strings, nulls, booleans and nested
// values are dropped. A payload that is not an array is an error.
func ParseIDs(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse identifier list: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parse identifier list: not an array")
	}

	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		var id string
		switch x := v.(type) {
		case json.Number:
			id = numberID(x)
		case string:
			id = strings.TrimSpace(x)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func numberID(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return n.String()
}

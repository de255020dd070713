package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/kjk/treewalk/treestore"
)

// Client talks to a TreeWalk server over its JSON API.
type Client struct {
	// BaseURL is like "http://localhost:8000"
	BaseURL string
	// HTTPClient, if set, is used instead of http.DefaultClient
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) rb(path string) *requests.Builder {
	rb := requests.URL(c.BaseURL + path)
	if c.HTTPClient != nil {
		rb = rb.Client(c.HTTPClient)
	}
	return rb
}

// GetTrees returns all recorded observations, oldest first.
func (c *Client) GetTrees(ctx context.Context) ([]treestore.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	var rows []treestore.Row
	err := c.rb("/api/trees").
		ToJSON(&rows).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddTree records a new observation and returns the id assigned to it.
func (c *Client) AddTree(ctx context.Context, lat, lon float64, species, notes string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	body := map[string]any{
		"lat":     lat,
		"lon":     lon,
		"species": species,
		"notes":   notes,
	}
	var buf bytes.Buffer
	var statusCode int
	err := c.rb("/api/trees").
		BodyJSON(body).
		ToBytesBuffer(&buf).
		// record the status instead of validating it so that we can
		// surface the error message the server sends in the body
		AddValidator(func(resp *http.Response) error {
			statusCode = resp.StatusCode
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if statusCode != http.StatusCreated {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(buf.Bytes(), &e); err == nil && e.Error != "" {
			return 0, fmt.Errorf("adding tree failed with status %d: %s", statusCode, e.Error)
		}
		return 0, fmt.Errorf("adding tree failed with status %d", statusCode)
	}
	var res struct {
		Status string `json:"status"`
		ID     int64  `json:"id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Package docker is a minimal client for the Docker Engine API over the
// local unix socket. It covers only the container lifecycle calls the
// compose runner needs.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultSocketPath = "/var/run/docker.sock"

type Client struct {
	http *http.Client
}

type ContainerSummary struct {
	ID      string            `json:"Id"`
	Names   []string          `json:"Names"`
	Image   string            `json:"Image"`
	State   string            `json:"State"`
	Status  string            `json:"Status"`
	Labels  map[string]string `json:"Labels"`
	Created int64             `json:"Created"`
}

func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 60 * time.Second}}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/_ping", nil)
	return err
}

func (c *Client) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	b, err := c.do(ctx, http.MethodGet, "/containers/json?all=1", nil)
	if err != nil {
		return nil, err
	}
	var out []ContainerSummary
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/containers/"+id+"/start", nil)
	return err
}

func (c *Client) StopContainer(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/containers/"+id+"/stop", nil)
	return err
}

func (c *Client) RestartContainer(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/containers/"+id+"/restart", nil)
	return err
}

// Logs fetches a bounded tail of a container's output. The returned body
// is a multiplexed stream when the container runs without a TTY; feed it
// through DemuxStream.
func (c *Client) Logs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("stdout", "1")
	q.Set("stderr", "1")
	if tail > 0 {
		q.Set("tail", fmt.Sprintf("%d", tail))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/containers/"+id+"/logs?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, fmt.Errorf("docker logs status %d: %s", res.StatusCode, string(body))
	}
	return res.Body, nil
}

// LogLines fetches and demultiplexes a container's log tail.
func (c *Client) LogLines(ctx context.Context, id string, tail int) ([]string, error) {
	body, err := c.Logs(ctx, id, tail)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return DemuxStream(body)
}

func (c *Client) do(ctx context.Context, method, p string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+p, reader)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = res.Status
		}
		return nil, fmt.Errorf("docker api %s %s failed: %s", method, p, msg)
	}
	return b, nil
}

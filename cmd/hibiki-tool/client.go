// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/agent"
	"github.com/hibiki-im/hibiki-go/pkg/message"
)

// apiClient talks to a hibikid's REST agent.
type apiClient struct {
	api    string
	client *http.Client
}

func newAPIClient(api string) *apiClient {
	return &apiClient{
		api:    api,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) url(action string) (string, error) {
	u, err := url.Parse(c.api)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, "rest", action)
	return u.String(), nil
}

func (c *apiClient) get(action string, v interface{}) error {
	u, err := c.url(action)
	if err != nil {
		return err
	}

	resp, err := c.client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("response's status code is %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *apiClient) send(req agent.RestSendRequest) (resp agent.RestSendResponse, err error) {
	u, err := c.url("send")
	if err != nil {
		return
	}

	buff := new(bytes.Buffer)
	if err = json.NewEncoder(buff).Encode(req); err != nil {
		return
	}

	httpResp, err := c.client.Post(u, "application/json", buff)
	if err != nil {
		return
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("response's status code is %d: %w", httpResp.StatusCode, err)
		return
	}
	if resp.Error != "" {
		err = fmt.Errorf("%s (status %d)", resp.Error, httpResp.StatusCode)
	}
	return
}

// parseTarget from the "friend|group id" arguments.
func parseTarget(kind, id string) (target message.Target, err error) {
	if target.Kind, err = message.ParseTargetKind(kind); err != nil {
		return
	}
	target.ID, err = strconv.ParseUint(id, 10, 64)
	return
}

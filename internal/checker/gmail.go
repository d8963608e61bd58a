// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/postlab/deliverability/internal/models"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// GmailChecker locates the test email via the Gmail REST API using an
// OAuth2 refresh-token client for the fixed test account.
type GmailChecker struct {
	httpClient *http.Client
	baseURL    string
}

// NewGmailChecker builds a Gmail checker. The refresh token belongs
// to the fixed test inbox and is exchanged for access tokens by the
// oauth2 transport automatically.
func NewGmailChecker(ctx context.Context, clientID, clientSecret, refreshToken string) *GmailChecker {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	return &GmailChecker{
		httpClient: conf.Client(ctx, &oauth2.Token{RefreshToken: refreshToken}),
		baseURL:    defaultGmailBaseURL,
	}
}

// Provider implements Checker.
func (c *GmailChecker) Provider() models.Provider { return models.ProviderGmail }

// gmailMessageList is the response to a messages.list call.
type gmailMessageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// gmailMessage is the minimal shape of a messages.get call.
type gmailMessage struct {
	ID       string   `json:"id"`
	LabelIDs []string `json:"labelIds"`
}

// Check searches the test account for a message carrying the test
// code and classifies it by Gmail label.
func (c *GmailChecker) Check(ctx context.Context, inboxEmail, testCode string) (*Outcome, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("subject:%q OR %q", testCode, testCode))
	params.Set("maxResults", "5")
	params.Set("includeSpamTrash", "true")

	var list gmailMessageList
	listURL := fmt.Sprintf("%s/users/me/messages?%s", c.baseURL, params.Encode())
	if err := c.getJSON(ctx, listURL, &list); err != nil {
		return nil, &CheckerError{Provider: models.ProviderGmail, Err: err}
	}

	if len(list.Messages) == 0 {
		return &Outcome{Status: models.ResultNotReceived}, nil
	}

	var msg gmailMessage
	msgURL := fmt.Sprintf("%s/users/me/messages/%s?format=minimal", c.baseURL, list.Messages[0].ID)
	if err := c.getJSON(ctx, msgURL, &msg); err != nil {
		return nil, &CheckerError{Provider: models.ProviderGmail, Err: err}
	}

	return &Outcome{
		Status: models.ResultReceived,
		Folder: folderFromGmailLabels(msg.LabelIDs),
	}, nil
}

func (c *GmailChecker) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail API returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gmail response: %w", err)
	}
	return nil
}

// folderFromGmailLabels maps Gmail label IDs onto a folder. Spam and
// promotions take precedence over the inbox label because Gmail
// attaches INBOX alongside category labels.
func folderFromGmailLabels(labels []string) models.Folder {
	hasInbox := false
	for _, l := range labels {
		switch l {
		case "SPAM":
			return models.FolderSpam
		case "CATEGORY_PROMOTIONS":
			return models.FolderPromotions
		case "INBOX":
			hasInbox = true
		}
	}
	if hasInbox {
		return models.FolderInbox
	}
	return models.FolderUnknown
}

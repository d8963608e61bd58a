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

	"golang.org/x/oauth2/clientcredentials"

	"github.com/postlab/deliverability/internal/models"
)

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookChecker locates the test email via the Microsoft Graph API
// using an app-only client-credentials grant for the test tenant.
type OutlookChecker struct {
	httpClient *http.Client
	baseURL    string
}

// NewOutlookChecker builds an Outlook checker for the given tenant.
func NewOutlookChecker(ctx context.Context, tenantID, clientID, clientSecret string) *OutlookChecker {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &OutlookChecker{
		httpClient: creds.Client(ctx),
		baseURL:    defaultGraphBaseURL,
	}
}

// Provider implements Checker.
func (c *OutlookChecker) Provider() models.Provider { return models.ProviderOutlook }

// graphFolder is the minimal shape of a mailFolders call.
type graphFolder struct {
	ID string `json:"id"`
}

// graphMessageList is the response to a messages search.
type graphMessageList struct {
	Value []struct {
		ID             string `json:"id"`
		ParentFolderID string `json:"parentFolderId"`
	} `json:"value"`
}

// Check searches the test mailbox for a message carrying the test
// code and classifies it by comparing its parent folder against the
// well-known inbox and junk folders.
func (c *OutlookChecker) Check(ctx context.Context, inboxEmail, testCode string) (*Outcome, error) {
	inboxID, err := c.folderID(ctx, inboxEmail, "inbox")
	if err != nil {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: err}
	}
	junkID, err := c.folderID(ctx, inboxEmail, "junkemail")
	if err != nil {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: err}
	}

	params := url.Values{}
	params.Set("$search", fmt.Sprintf("%q", testCode))
	params.Set("$select", "id,parentFolderId")
	params.Set("$top", "5")

	searchURL := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(inboxEmail), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: fmt.Errorf("build search request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("ConsistencyLevel", "eventual")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: fmt.Errorf("graph search: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: fmt.Errorf("graph search returned HTTP %d", resp.StatusCode)}
	}

	var list graphMessageList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &CheckerError{Provider: models.ProviderOutlook, Err: fmt.Errorf("decode search response: %w", err)}
	}

	if len(list.Value) == 0 {
		return &Outcome{Status: models.ResultNotReceived}, nil
	}

	return &Outcome{
		Status: models.ResultReceived,
		Folder: folderFromGraphParent(list.Value[0].ParentFolderID, inboxID, junkID),
	}, nil
}

// folderID resolves a well-known Graph mail folder to its ID.
func (c *OutlookChecker) folderID(ctx context.Context, mailbox, wellKnown string) (string, error) {
	folderURL := fmt.Sprintf("%s/users/%s/mailFolders/%s", c.baseURL, url.PathEscape(mailbox), wellKnown)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, folderURL, nil)
	if err != nil {
		return "", fmt.Errorf("build folder request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve folder %s: %w", wellKnown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve folder %s returned HTTP %d", wellKnown, resp.StatusCode)
	}

	var folder graphFolder
	if err := json.NewDecoder(resp.Body).Decode(&folder); err != nil {
		return "", fmt.Errorf("decode folder response: %w", err)
	}
	return folder.ID, nil
}

// folderFromGraphParent maps a message's parent folder onto a folder
// classification. Outlook has no promotions tab; anything outside the
// inbox and junk folders is unknown.
func folderFromGraphParent(parentID, inboxID, junkID string) models.Folder {
	switch parentID {
	case inboxID:
		return models.FolderInbox
	case junkID:
		return models.FolderSpam
	}
	return models.FolderUnknown
}

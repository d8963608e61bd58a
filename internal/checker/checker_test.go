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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/postlab/deliverability/internal/models"
)

func TestFolderFromGmailLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   models.Folder
	}{
		{"inbox only", []string{"INBOX", "UNREAD"}, models.FolderInbox},
		{"spam wins over inbox", []string{"INBOX", "SPAM"}, models.FolderSpam},
		{"promotions wins over inbox", []string{"CATEGORY_PROMOTIONS", "INBOX"}, models.FolderPromotions},
		{"spam without inbox", []string{"SPAM", "UNREAD"}, models.FolderSpam},
		{"no recognised label", []string{"UNREAD", "IMPORTANT"}, models.FolderUnknown},
		{"empty", nil, models.FolderUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := folderFromGmailLabels(tc.labels); got != tc.want {
				t.Errorf("folderFromGmailLabels(%v) = %q, want %q", tc.labels, got, tc.want)
			}
		})
	}
}

func TestFolderFromGraphParent(t *testing.T) {
	tests := []struct {
		name     string
		parentID string
		want     models.Folder
	}{
		{"inbox", "folder-inbox", models.FolderInbox},
		{"junk", "folder-junk", models.FolderSpam},
		{"archive", "folder-archive", models.FolderUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := folderFromGraphParent(tc.parentID, "folder-inbox", "folder-junk"); got != tc.want {
				t.Errorf("folderFromGraphParent(%q) = %q, want %q", tc.parentID, got, tc.want)
			}
		})
	}
}

func TestFolderForMailbox(t *testing.T) {
	tests := []struct {
		mailbox string
		want    models.Folder
	}{
		{"INBOX", models.FolderInbox},
		{"Junk", models.FolderSpam},
		{"Spam", models.FolderSpam},
		{"Bulk Mail", models.FolderSpam},
		{"Archive", models.FolderUnknown},
	}

	for _, tc := range tests {
		if got := folderForMailbox(tc.mailbox); got != tc.want {
			t.Errorf("folderForMailbox(%q) = %q, want %q", tc.mailbox, got, tc.want)
		}
	}
}

// gmailFixture serves the two Gmail API calls Check makes.
func gmailFixture(t *testing.T, listBody, messageBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/users/me/messages":
			if r.URL.Query().Get("includeSpamTrash") != "true" {
				t.Error("expected includeSpamTrash=true on list call")
			}
			fmt.Fprint(w, listBody)
		case strings.HasPrefix(r.URL.Path, "/users/me/messages/"):
			fmt.Fprint(w, messageBody)
		default:
			t.Errorf("unexpected gmail path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestGmailChecker_Received(t *testing.T) {
	srv := gmailFixture(t,
		`{"messages": [{"id": "msg-1"}]}`,
		`{"id": "msg-1", "labelIds": ["CATEGORY_PROMOTIONS", "INBOX"]}`,
	)
	defer srv.Close()

	c := &GmailChecker{httpClient: srv.Client(), baseURL: srv.URL}
	outcome, err := c.Check(context.Background(), "spamtest.gmail@gmail.com", "TEST-A1B2C3")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if outcome.Status != models.ResultReceived {
		t.Errorf("status = %q, want received", outcome.Status)
	}
	if outcome.Folder != models.FolderPromotions {
		t.Errorf("folder = %q, want promotions", outcome.Folder)
	}
}

func TestGmailChecker_NotReceived(t *testing.T) {
	srv := gmailFixture(t, `{}`, ``)
	defer srv.Close()

	c := &GmailChecker{httpClient: srv.Client(), baseURL: srv.URL}
	outcome, err := c.Check(context.Background(), "spamtest.gmail@gmail.com", "TEST-A1B2C3")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if outcome.Status != models.ResultNotReceived {
		t.Errorf("status = %q, want not_received", outcome.Status)
	}
}

func TestGmailChecker_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	c := &GmailChecker{httpClient: srv.Client(), baseURL: srv.URL}
	_, err := c.Check(context.Background(), "spamtest.gmail@gmail.com", "TEST-A1B2C3")
	if err == nil {
		t.Fatal("expected error from HTTP 403")
	}

	var checkerErr *CheckerError
	if !errors.As(err, &checkerErr) {
		t.Fatalf("expected *CheckerError, got %T", err)
	}
	if checkerErr.Provider != models.ProviderGmail {
		t.Errorf("provider = %q, want gmail", checkerErr.Provider)
	}
}

// graphFixture serves the folder resolution and search calls Check
// makes against Microsoft Graph.
func graphFixture(t *testing.T, searchBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/mailFolders/inbox"):
			fmt.Fprint(w, `{"id": "folder-inbox"}`)
		case strings.HasSuffix(r.URL.Path, "/mailFolders/junkemail"):
			fmt.Fprint(w, `{"id": "folder-junk"}`)
		case strings.HasSuffix(r.URL.Path, "/messages"):
			if r.Header.Get("ConsistencyLevel") != "eventual" {
				t.Error("expected ConsistencyLevel: eventual on search")
			}
			fmt.Fprint(w, searchBody)
		default:
			t.Errorf("unexpected graph path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestOutlookChecker_ReceivedInJunk(t *testing.T) {
	srv := graphFixture(t, `{"value": [{"id": "m1", "parentFolderId": "folder-junk"}]}`)
	defer srv.Close()

	c := &OutlookChecker{httpClient: srv.Client(), baseURL: srv.URL}
	outcome, err := c.Check(context.Background(), "spamtest@outlook.com", "TEST-A1B2C3")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if outcome.Status != models.ResultReceived {
		t.Errorf("status = %q, want received", outcome.Status)
	}
	if outcome.Folder != models.FolderSpam {
		t.Errorf("folder = %q, want spam", outcome.Folder)
	}
}

func TestOutlookChecker_NotReceived(t *testing.T) {
	srv := graphFixture(t, `{"value": []}`)
	defer srv.Close()

	c := &OutlookChecker{httpClient: srv.Client(), baseURL: srv.URL}
	outcome, err := c.Check(context.Background(), "spamtest@outlook.com", "TEST-A1B2C3")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if outcome.Status != models.ResultNotReceived {
		t.Errorf("status = %q, want not_received", outcome.Status)
	}
}

func TestCheckerError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &CheckerError{Provider: models.ProviderYahoo, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if !strings.Contains(err.Error(), "yahoo") {
		t.Errorf("error string %q should name the provider", err.Error())
	}
}

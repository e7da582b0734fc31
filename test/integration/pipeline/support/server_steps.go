package support

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/server"
)

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the HTTP server is running$`, testCtx.theHTTPServerIsRunning)
	sc.Step(`^I upload the document$`, testCtx.iUploadTheDocument)
	sc.Step(`^I request the cached document by hash$`, testCtx.iRequestTheCachedDocument)
	sc.Step(`^I request the document "([^"]*)"$`, testCtx.iRequestTheDocument)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should have (\d+) NDJSON lines ending with done$`, testCtx.theResponseShouldHaveNDJSONLines)
	sc.Step(`^the response header "([^"]*)" should be the document hash$`, testCtx.theResponseHeaderShouldBeTheHash)
	sc.Step(`^the response should be a document with (\d+) pages$`, testCtx.theResponseShouldBeADocument)
	sc.Step(`^the response error should be "([^"]*)"$`, testCtx.theResponseErrorShouldBe)
}

func (testCtx *TestContext) theHTTPServerIsRunning() error {
	if testCtx.App == nil {
		if err := testCtx.anOfflineExtractionService(); err != nil {
			return err
		}
	}
	cfg := testCtx.App.Config
	srv, err := server.NewServer(server.Config{
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		ImageURLPrefix: cfg.Images.URLPrefix,
	}, server.Deps{
		Pipeline:  testCtx.App.Pipeline,
		Cache:     testCtx.App.Cache,
		Images:    testCtx.App.Images,
		Explainer: testCtx.App.Explainer,
		Logger:    testCtx.App.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.HTTPServer = httptest.NewServer(srv.Handler())
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iUploadTheDocument() error {
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+"/documents", bytes.NewReader(testCtx.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/pdf")
	return testCtx.do(req)
}

func (testCtx *TestContext) iRequestTheCachedDocument() error {
	return testCtx.iRequestTheDocument(document.HashBytes(testCtx.Data))
}

func (testCtx *TestContext) iRequestTheDocument(hash string) error {
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+"/documents/"+hash, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldHaveNDJSONLines(n int) error {
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(testCtx.LastHTTPResponse))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return fmt.Errorf("invalid NDJSON line %q: %w", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != n {
		return fmt.Errorf("expected %d lines, got %d", n, len(lines))
	}
	if lines[n-1]["type"] != "done" {
		return fmt.Errorf("last line has type %v", lines[n-1]["type"])
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeTheHash(name string) error {
	want := document.HashBytes(testCtx.Data)
	if got := testCtx.LastHTTPHeaders[name]; got != want {
		return fmt.Errorf("header %s is %q, want %q", name, got, want)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeADocument(pages int) error {
	var entry document.Entry
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &entry); err != nil {
		return fmt.Errorf("invalid document JSON: %w", err)
	}
	if entry.Hash != document.HashBytes(testCtx.Data) {
		return errors.New("document hash does not match the upload")
	}
	if len(entry.Pages) != pages {
		return fmt.Errorf("document has %d pages, want %d", len(entry.Pages), pages)
	}
	return nil
}

func (testCtx *TestContext) theResponseErrorShouldBe(code string) error {
	var resp server.ErrorResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
		return fmt.Errorf("invalid error JSON: %w", err)
	}
	if resp.Error != code {
		return fmt.Errorf("error code %q, want %q", resp.Error, code)
	}
	return nil
}

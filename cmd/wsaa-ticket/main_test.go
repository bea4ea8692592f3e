// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/wsaa/lib/clock"
	"github.com/bureau-foundation/wsaa/lib/sealed"
	"github.com/bureau-foundation/wsaa/lib/secret"
	"github.com/bureau-foundation/wsaa/lib/testutil"
	"github.com/bureau-foundation/wsaa/lib/wsaa"
	"github.com/bureau-foundation/wsaa/lib/wsaa/wsaatest"
)

type testApp struct {
	*app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	env    map[string]string
}

func newTestApp(clk clock.Clock) *testApp {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	test := &testApp{stdout: stdout, stderr: stderr, env: map[string]string{}}
	test.app = &app{
		stdout: stdout,
		stderr: stderr,
		clock:  clk,
		getenv: func(name string) string { return test.env[name] },
	}
	return test
}

// fixture is a fake authority plus a configuration file pointing at it.
type fixture struct {
	authority *wsaatest.Authority
	directory string
	config    string
}

func newFixture(t *testing.T, clk clock.Clock, extra string) *fixture {
	t.Helper()
	directory := t.TempDir()
	authority := wsaatest.NewAuthority(t, clk)
	files := wsaatest.WriteCredentials(t, directory, wsaatest.NewCredentials(t))
	caFile := filepath.Join(directory, "authority-ca.pem")
	wsaatest.WritePEM(t, caFile, "CERTIFICATE", authority.Certificate().Raw)

	content := fmt.Sprintf(`environment: testing
credentials:
  certificate: %s
  private_key: %s
authority:
  endpoint: %s
  ca_file: %s
  timezone: UTC
store:
  kind: file
  directory: %s
telemetry:
  metrics_file: %s
%s`, files.Certificate, files.PrivateKey, authority.URL(), caFile,
		filepath.Join(directory, "tickets"), filepath.Join(directory, "wsaa.prom"), extra)

	path := filepath.Join(directory, "wsaa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return &fixture{authority: authority, directory: directory, config: path}
}

func decodeTicket(t *testing.T, data []byte) *wsaa.AccessTicket {
	t.Helper()
	var ticket wsaa.AccessTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatalf("decoding ticket JSON: %v\n%s", err, data)
	}
	return &ticket
}

func TestObtainReusesStoredTicket(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	ctx := context.Background()

	first := newTestApp(clock.Real())
	if err := first.run(ctx, []string{"obtain", "--config", fixture.config, "--service", "wslsp", "--json"}); err != nil {
		t.Fatalf("obtain: %v\n%s", err, first.stderr)
	}
	ticket := decodeTicket(t, first.stdout.Bytes())
	if ticket.ServiceID != "wslsp" || ticket.Environment != wsaa.Testing {
		t.Errorf("ticket = %s/%s", ticket.ServiceID, ticket.Environment)
	}
	if ticket.Token == "" || ticket.Signature == "" {
		t.Error("ticket has no credentials")
	}
	if fixture.authority.Calls() != 1 {
		t.Fatalf("authority calls = %d, want 1", fixture.authority.Calls())
	}
	requests := fixture.authority.Requests()
	if got := requests[0].Ticket.ExpirationTime.Sub(requests[0].Ticket.GenerationTime); got != wsaa.DefaultValidity {
		t.Errorf("requested validity = %v, want %v", got, wsaa.DefaultValidity)
	}

	// A second process finds the stored ticket and does not log in.
	second := newTestApp(clock.Real())
	second.env["WSAA_CONFIG"] = fixture.config
	if err := second.run(ctx, []string{"obtain", "--service", "wslsp", "--json"}); err != nil {
		t.Fatalf("second obtain: %v\n%s", err, second.stderr)
	}
	if fixture.authority.Calls() != 1 {
		t.Errorf("authority calls = %d after reuse, want 1", fixture.authority.Calls())
	}
	if reused := decodeTicket(t, second.stdout.Bytes()); reused.Token != ticket.Token {
		t.Error("second obtain returned a different token")
	}

	metrics, err := os.ReadFile(filepath.Join(fixture.directory, "wsaa.prom"))
	if err != nil {
		t.Fatalf("reading metrics file: %v", err)
	}
	if !strings.Contains(string(metrics), `wsaa_ticket_cache_lookups_total{result="persisted"} 1`) {
		t.Errorf("metrics file lacks the persisted lookup:\n%s", metrics)
	}
}

func TestObtainForceAndHours(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	ctx := context.Background()

	if err := newTestApp(clock.Real()).run(ctx, []string{"obtain", "--config", fixture.config, "-s", "wsfe"}); err != nil {
		t.Fatalf("obtain: %v", err)
	}
	forced := newTestApp(clock.Real())
	if err := forced.run(ctx, []string{"obtain", "--config", fixture.config, "-s", "wsfe", "--force", "--hours", "30"}); err != nil {
		t.Fatalf("obtain --force: %v", err)
	}
	if fixture.authority.Calls() != 2 {
		t.Errorf("authority calls = %d, want 2", fixture.authority.Calls())
	}
	last := fixture.authority.Requests()[1].Ticket
	if got := last.ExpirationTime.Sub(last.GenerationTime); got != wsaa.MaxValidity {
		t.Errorf("requested validity = %v, want clamp to %v", got, wsaa.MaxValidity)
	}
	output := forced.stdout.String()
	for _, want := range []string{"service:", "wsfe", "expires:", "token:", "sign:"} {
		if !strings.Contains(output, want) {
			t.Errorf("text output lacks %q:\n%s", want, output)
		}
	}
}

func TestObtainFault(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	fixture.authority.RespondWith(http.StatusInternalServerError,
		wsaatest.FaultResponse("coe.alreadyAuthenticated", "El CEE ya posee un TA valido para el acceso al WSN solicitado"))

	test := newTestApp(clock.Real())
	err := test.run(context.Background(), []string{"obtain", "--config", fixture.config, "--service", "wslsp", "--retry"})
	if !wsaa.IsKind(err, wsaa.KindAuthorityFault) {
		t.Fatalf("error = %v, want an authority fault", err)
	}
	if !strings.Contains(err.Error(), "coe.alreadyAuthenticated") {
		t.Errorf("error %q does not name the fault code", err)
	}
	// Not retryable, so --retry does not try again.
	if fixture.authority.Calls() != 1 {
		t.Errorf("authority calls = %d, want 1", fixture.authority.Calls())
	}
	if test.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want nothing", test.stdout)
	}
}

func TestObtainRetryWaitsForDelay(t *testing.T) {
	fake := clock.Fake(time.Now())
	fixture := newFixture(t, fake, "")
	fixture.authority.Respond(func(request *wsaatest.LoginRequest) wsaatest.Reply {
		if fixture.authority.Calls() == 1 {
			return wsaatest.Reply{
				StatusCode: http.StatusInternalServerError,
				Body:       wsaatest.FaultResponse("wsaa.unavailable", "servicio no disponible"),
			}
		}
		return fixture.authority.Issue(request)
	})

	test := newTestApp(fake)
	done := make(chan error, 1)
	go func() {
		done <- test.run(context.Background(), []string{"obtain", "--config", fixture.config, "--service", "wslsp", "--retry", "--json"})
	}()

	fake.WaitForTimers(1)
	testutil.RequireBlocked[error](t, done, 50*time.Millisecond, "obtain returned before the retry delay elapsed")
	fake.Advance(wsaa.AuthorityRetryDelay)

	if err := testutil.RequireReceive[error](t, done, 10*time.Second, "obtain did not finish after the delay"); err != nil {
		t.Fatalf("obtain --retry: %v\n%s", err, test.stderr)
	}
	if fixture.authority.Calls() != 2 {
		t.Errorf("authority calls = %d, want 2", fixture.authority.Calls())
	}
	if ticket := decodeTicket(t, test.stdout.Bytes()); ticket.ServiceID != "wslsp" {
		t.Errorf("ticket service = %s", ticket.ServiceID)
	}
}

func TestObtainAll(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	test := newTestApp(clock.Real())
	if err := test.run(context.Background(), []string{"obtain-all", "--config", fixture.config, "--json"}); err != nil {
		t.Fatalf("obtain-all: %v\n%s", err, test.stderr)
	}

	var results []serviceResult
	if err := json.Unmarshal(test.stdout.Bytes(), &results); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	services := wsaa.DefaultCatalog().Services()
	if len(results) != len(services) {
		t.Fatalf("results = %d, want %d", len(results), len(services))
	}
	for index, result := range results {
		if result.Service != services[index].ID {
			t.Errorf("results[%d] = %s, want %s (catalog order)", index, result.Service, services[index].ID)
		}
		if result.Ticket == nil || result.Error != "" {
			t.Errorf("%s: ticket=%v error=%q", result.Service, result.Ticket != nil, result.Error)
		}
	}
}

func TestObtainAllPartialFailure(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	fixture.authority.Respond(func(request *wsaatest.LoginRequest) wsaatest.Reply {
		if request.Ticket.ServiceID == "mtxca" {
			return wsaatest.Reply{
				StatusCode: http.StatusInternalServerError,
				Body:       wsaatest.FaultResponse("wsaa.unavailable", "servicio no disponible"),
			}
		}
		return fixture.authority.Issue(request)
	})

	test := newTestApp(clock.Real())
	err := test.run(context.Background(), []string{"obtain-all", "--config", fixture.config})
	total := wsaa.DefaultCatalog().Len()
	if err == nil || err.Error() != fmt.Sprintf("1 of %d services failed", total) {
		t.Fatalf("obtain-all error = %v", err)
	}
	var mtxcaLine string
	for _, line := range strings.Split(test.stdout.String(), "\n") {
		if strings.HasPrefix(line, "mtxca ") {
			mtxcaLine = line
		}
	}
	if !strings.Contains(mtxcaLine, "retryable") || !strings.Contains(mtxcaLine, "wsaa.unavailable") {
		t.Errorf("mtxca line = %q", mtxcaLine)
	}
	if !strings.Contains(test.stdout.String(), "wslsp") {
		t.Errorf("table lacks successful services:\n%s", test.stdout)
	}
}

func TestSealedStore(t *testing.T) {
	keyDirectory := t.TempDir()
	identityPath := filepath.Join(keyDirectory, "identity.txt")

	keygen := newTestApp(clock.Real())
	if err := keygen.run(context.Background(), []string{"keygen", "--output", identityPath}); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	publicKey := strings.TrimSpace(keygen.stdout.String())
	if !strings.HasPrefix(publicKey, "age1") {
		t.Fatalf("keygen stdout = %q, want an age public key", publicKey)
	}
	info, err := os.Stat(identityPath)
	if err != nil {
		t.Fatalf("stat identity: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity mode = %o, want 600", info.Mode().Perm())
	}
	contents, err := secret.ReadFile(identityPath)
	if err != nil {
		t.Fatalf("reading identity: %v", err)
	}
	identity, err := sealed.ReadIdentity(contents)
	contents.Close()
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	derived, err := sealed.PublicKeyOf(identity)
	identity.Close()
	if err != nil || derived != publicKey {
		t.Fatalf("identity public key = %q, %v; want %q", derived, err, publicKey)
	}

	// A second keygen refuses to overwrite the identity.
	if err := newTestApp(clock.Real()).run(context.Background(), []string{"keygen", "-o", identityPath}); err == nil {
		t.Error("keygen overwrote an existing identity file")
	}

	fixture := newFixture(t, clock.Real(), fmt.Sprintf(`testing:
  store:
    recipients: [%s]
    identity_file: %s
`, publicKey, identityPath))
	ctx := context.Background()
	for attempt := 0; attempt < 2; attempt++ {
		test := newTestApp(clock.Real())
		if err := test.run(ctx, []string{"obtain", "--config", fixture.config, "--service", "wslsp"}); err != nil {
			t.Fatalf("obtain %d: %v\n%s", attempt, err, test.stderr)
		}
	}
	if fixture.authority.Calls() != 1 {
		t.Errorf("authority calls = %d, want 1", fixture.authority.Calls())
	}
	stored, err := os.ReadFile(filepath.Join(fixture.directory, "tickets", "ticket_wslsp_testing.cbor"))
	if err != nil {
		t.Fatalf("reading stored ticket: %v", err)
	}
	if !bytes.HasPrefix(stored, []byte("age-encryption.org/v1\n")) {
		t.Error("stored ticket is not sealed")
	}
}

func TestServices(t *testing.T) {
	t.Run("built-in catalog", func(t *testing.T) {
		test := newTestApp(clock.Real())
		if err := test.run(context.Background(), []string{"services", "--environment", "production"}); err != nil {
			t.Fatalf("services: %v", err)
		}
		output := test.stdout.String()
		if !strings.Contains(output, "production ENDPOINT") {
			t.Errorf("header does not name production:\n%s", output)
		}
		if !strings.Contains(output, "https://serviciosjava.afip.gob.ar/wslsp/LspService") {
			t.Errorf("output lacks the wslsp production endpoint:\n%s", output)
		}
	})

	t.Run("configured services", func(t *testing.T) {
		fixture := newFixture(t, clock.Real(), `services:
  - id: wsfecred
    display_name: Factura de Credito Electronica
    testing_endpoint: https://fwshomo.afip.gov.ar/wsfecred/FECredService
`)
		test := newTestApp(clock.Real())
		if err := test.run(context.Background(), []string{"services", "--config", fixture.config, "--json"}); err != nil {
			t.Fatalf("services: %v", err)
		}
		var services []wsaa.Service
		if err := json.Unmarshal(test.stdout.Bytes(), &services); err != nil {
			t.Fatalf("decoding services: %v", err)
		}
		last := services[len(services)-1]
		if last.ID != "wsfecred" || last.DisplayName != "Factura de Credito Electronica" {
			t.Errorf("last service = %+v", last)
		}
		if len(services) != wsaa.DefaultCatalog().Len()+1 {
			t.Errorf("services = %d, want the catalog plus one", len(services))
		}
	})
}

func TestCheck(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	test := newTestApp(clock.Real())
	if err := test.run(context.Background(), []string{"check", "--config", fixture.config}); err != nil {
		t.Fatalf("check: %v\n%s", err, test.stderr)
	}
	output := test.stdout.String()
	for _, want := range []string{"CN=wsaa-test", "fingerprint:", "reachable", fixture.authority.URL()} {
		if !strings.Contains(output, want) {
			t.Errorf("check output lacks %q:\n%s", want, output)
		}
	}
	if fixture.authority.Calls() != 0 {
		t.Errorf("check logged in %d times", fixture.authority.Calls())
	}
}

func TestCheckCertificateExpired(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	later := newTestApp(clock.Fake(time.Now().Add(2 * 365 * 24 * time.Hour)))
	err := later.run(context.Background(), []string{"check", "--config", fixture.config})
	if err == nil || !strings.Contains(err.Error(), "certificate expired") {
		t.Errorf("check error = %v, want certificate expired", err)
	}
}

func TestRunErrors(t *testing.T) {
	fixture := newFixture(t, clock.Real(), "")
	missingKey := filepath.Join(t.TempDir(), "wsaa.yaml")
	if err := os.WriteFile(missingKey, []byte(`credentials:
  certificate: /nonexistent/cert.pem
  private_key: /nonexistent/key.pem
`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no subcommand", nil, "subcommand required"},
		{"unknown subcommand", []string{"renew"}, "unknown subcommand"},
		{"missing service", []string{"obtain", "--config", fixture.config}, "--service is required"},
		{"negative hours", []string{"obtain", "--config", fixture.config, "-s", "wslsp", "--hours", "-1"}, "must not be negative"},
		{"no configuration", []string{"obtain", "--service", "wslsp"}, "no configuration"},
		{"bad environment", []string{"obtain", "--config", fixture.config, "-s", "wslsp", "--environment", "staging"}, "environment"},
		{"unknown service", []string{"obtain", "--config", fixture.config, "-s", "nosuchsvc"}, string(wsaa.KindInvalidServiceID)},
		{"missing certificate", []string{"obtain", "--config", missingKey, "-s", "wslsp"}, string(wsaa.KindCertificateNotFound)},
		{"stray argument", []string{"check", "--config", fixture.config, "extra"}, "unexpected argument"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := newTestApp(clock.Real()).run(context.Background(), test.args)
			if err == nil {
				t.Fatal("run succeeded")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want it to mention %q", err, test.want)
			}
		})
	}
	if fixture.authority.Calls() != 0 {
		t.Errorf("failing commands reached the authority %d times", fixture.authority.Calls())
	}
}

func TestHelpAndVersion(t *testing.T) {
	test := newTestApp(clock.Real())
	if err := test.run(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(test.stdout.String(), "wsaa-ticket ") {
		t.Errorf("version output = %q", test.stdout)
	}

	for _, args := range [][]string{{"help"}, {"obtain", "--help"}} {
		test := newTestApp(clock.Real())
		if err := test.run(context.Background(), args); err != nil {
			t.Errorf("%v: %v", args, err)
		}
		if test.stderr.Len() == 0 {
			t.Errorf("%v printed no help", args)
		}
	}
}

func TestLoadLocation(t *testing.T) {
	location, err := loadLocation("")
	if err != nil || location == nil {
		t.Fatalf("loadLocation(\"\") = %v, %v", location, err)
	}
	if _, offset := time.Date(2026, 7, 1, 0, 0, 0, 0, location).Zone(); offset != -3*60*60 {
		t.Errorf("default offset = %d, want -10800", offset)
	}
	if _, err := loadLocation("Mars/Olympus_Mons"); err == nil {
		t.Error("loadLocation accepted an unknown zone")
	}
}

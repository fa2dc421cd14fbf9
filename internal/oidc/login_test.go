package oidc

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestLogin(t *testing.T) {
	t.Run("runs the full device flow", func(t *testing.T) {
		p := newFakeProvider(t)
		p.script(oauthError("authorization_pending"), issuedReply)

		var (
			mu       sync.Mutex
			states   []State
			userCode string
		)
		observer := func(state State, auth *DeviceAuthorization) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, state)
			if state == StatePolling {
				userCode = auth.UserCode
			}
		}
		e := newTestEngine(newFakeClock(), WithObserver(observer))

		cred, err := e.Login(context.Background(), p.URL+"/.well-known/openid-configuration", Client{})
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		want := []State{StateDiscover, StateRegister, StateDeviceAuthorize, StatePolling, StateIssued}
		if !reflect.DeepEqual(states, want) {
			t.Errorf("states = %v, want %v", states, want)
		}
		if userCode != "ABCD-EFGH" {
			t.Errorf("observer saw user code %q", userCode)
		}
		if cred.ClientID != "registered-client" {
			t.Errorf("ClientID = %q", cred.ClientID)
		}
		if cred.Username != "alice" {
			t.Errorf("Username = %q", cred.Username)
		}
	})

	t.Run("skips registration for a known client", func(t *testing.T) {
		p := newFakeProvider(t)
		var states []State
		e := newTestEngine(newFakeClock(), WithObserver(func(s State, _ *DeviceAuthorization) {
			states = append(states, s)
		}))

		cred, err := e.Login(context.Background(), p.URL, Client{ID: "cli"})
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		for _, s := range states {
			if s == StateRegister {
				t.Error("registration should be skipped")
			}
		}
		if cred.ClientID != "cli" {
			t.Errorf("ClientID = %q", cred.ClientID)
		}
	})

	t.Run("reports denial", func(t *testing.T) {
		p := newFakeProvider(t)
		p.script(oauthError("access_denied"))
		var last State
		e := newTestEngine(newFakeClock(), WithObserver(func(s State, _ *DeviceAuthorization) {
			last = s
		}))

		_, err := e.Login(context.Background(), p.URL, Client{ID: "cli"})
		var denied *AccessDeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("expected AccessDeniedError, got %v", err)
		}
		if last != StateDenied {
			t.Errorf("last state = %v, want denied", last)
		}
	})
}

func TestUserInfo(t *testing.T) {
	p := newFakeProvider(t)
	e := newTestEngine(newFakeClock())
	provider, err := e.Discover(context.Background(), p.URL)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	name, err := e.UserInfo(context.Background(), provider, expiredCredential(p, newFakeClock()))
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if name != "alice" {
		t.Errorf("UserInfo() = %q, want alice", name)
	}

	cred := expiredCredential(p, newFakeClock())
	cred.AccessToken = cred.RefreshToken
	if _, err := e.UserInfo(context.Background(), provider, cred); err == nil {
		t.Error("expected an error for a rejected token")
	}
}

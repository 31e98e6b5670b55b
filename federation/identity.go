package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v)
}

func fetchGitHub(ctx context.Context, client *http.Client, cfg ProviderConfig) (Identity, error) {
	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := getJSON(ctx, client, cfg.UserInfoURL, &user); err != nil {
		return Identity{}, err
	}
	// The profile email may be unverified, so the emails endpoint decides.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, cfg.EmailsURL, &emails); err != nil {
		return Identity{}, err
	}
	email := ""
	for _, e := range emails {
		if e.Verified && (e.Primary || email == "") {
			email = e.Email
		}
	}
	if email == "" {
		return Identity{}, ErrNoVerifiedEmail
	}
	name := user.Name
	if name == "" {
		name = user.Login
	}
	return Identity{Subject: strconv.FormatInt(user.ID, 10), Email: email, Name: name}, nil
}

func fetchGoogle(ctx context.Context, client *http.Client, cfg ProviderConfig) (Identity, error) {
	var user struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := getJSON(ctx, client, cfg.UserInfoURL, &user); err != nil {
		return Identity{}, err
	}
	if user.Email == "" || !user.VerifiedEmail {
		return Identity{}, ErrNoVerifiedEmail
	}
	return Identity{Subject: user.ID, Email: user.Email, Name: user.Name}, nil
}

// fetchGeneric reads an OpenID Connect userinfo document.
func fetchGeneric(ctx context.Context, client *http.Client, cfg ProviderConfig) (Identity, error) {
	var user struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := getJSON(ctx, client, cfg.UserInfoURL, &user); err != nil {
		return Identity{}, err
	}
	if user.Email == "" || !user.EmailVerified {
		return Identity{}, ErrNoVerifiedEmail
	}
	return Identity{Subject: user.Sub, Email: user.Email, Name: user.Name}, nil
}

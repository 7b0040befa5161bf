package browser

import "github.com/CoCo-27/chatgpt-api/domain/credential"

// ToCredentialCookies converts driver cookies into domain cookies.
func ToCredentialCookies(cookies []Cookie) []credential.Cookie {
	out := make([]credential.Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = credential.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
	}
	return out
}

// FromCredentialCookies converts domain cookies into driver cookies.
func FromCredentialCookies(cookies []credential.Cookie) []Cookie {
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
	}
	return out
}

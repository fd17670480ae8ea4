// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

// bearer token and credential protection settings
type authConfig struct {
	// the secret used to sign bearer tokens
	// DO NOT STORE THIS IN A CONFIG FILE! Use an environment variable instead
	SecretKey string `yaml:"secret_key"`
	// the JWS signing algorithm (HS256, HS384, HS512)
	Algorithm string `yaml:"algorithm"`
	// lifetime of an issued bearer token (minutes)
	TokenLifetime int `yaml:"token_lifetime"`
	// a Fernet key (base64) used to encrypt backend secrets at rest
	EncryptionKey string `yaml:"encryption_key"`
	// what a logout invalidates: "global" (every audience of the token) or
	// "audience" (only the backend logged out of)
	Invalidation string `yaml:"invalidation"`
}

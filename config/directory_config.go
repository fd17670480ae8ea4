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

// The directory service (LDAP) used to authenticate users and resolve the
// group whose data store they work in.
type directoryConfig struct {
	// URL of the directory server (ldap:// or ldaps://)
	URL string `yaml:"url"`
	// distinguished name of the principal used for searches
	Principal string `yaml:"principal"`
	// password of the search principal
	Password string `yaml:"password"`
	// base DN under which users are searched
	Base string `yaml:"base"`
	// the RDN attribute of a membership DN that names the user's group
	GroupAttribute string `yaml:"group_attribute"`
	// search filter locating a user by name (one %s verb)
	UserFilter string `yaml:"user_filter"`
}

// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couchtest

import (
	"context"
	"net/http"
	"strings"

	"gitlab.com/flimzy/httpe"
)

const sessionCookieName = "AuthSession"

type contextKey struct{ name string }

var userContextKey = &contextKey{"userCtx"}

type userContext struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

var errUnauthorized = &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "You are not authorized to access this db."}

// authenticate checks name and password against the server admin and the
// _users database. It returns nil if they do not match.
func (s *Server) authenticate(name, password string) *userContext {
	if s.admin != nil && name == s.admin.name {
		if derivedKey(password, s.admin.salt, pbkdf2Iterations) == s.admin.derivedKey {
			return &userContext{Name: name, Roles: []string{"_admin"}}
		}
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.dbs["_users"].docs[userPrefix+name]
	if !ok || doc.deleted || !checkUser(doc.body, password) {
		return nil
	}
	var roles []string
	if list, ok := doc.body["roles"].([]interface{}); ok {
		for _, role := range list {
			if r, ok := role.(string); ok {
				roles = append(roles, r)
			}
		}
	}
	return &userContext{Name: name, Roles: roles}
}

// userFromRequest returns the user authenticated by basic auth or a session
// cookie, or nil.
func (s *Server) userFromRequest(r *http.Request) (*userContext, error) {
	if name, password, ok := r.BasicAuth(); ok {
		user := s.authenticate(name, password)
		if user == nil {
			return nil, &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "Name or password is incorrect."}
		}
		return user, nil
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.mu.RLock()
		name, ok := s.sessions[cookie.Value]
		s.mu.RUnlock()
		if ok {
			roles := []string{}
			if s.admin != nil && name == s.admin.name {
				roles = []string{"_admin"}
			}
			return &userContext{Name: name, Roles: roles}, nil
		}
	}
	return nil, nil
}

// authMiddleware sets the user context, and rejects anonymous requests
// unless the server runs without an admin.
func (s *Server) authMiddleware(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if s.admin == nil {
			// Admin party!
			ctx := context.WithValue(r.Context(), userContextKey, &userContext{Roles: []string{"_admin"}})
			return next.ServeHTTPWithError(w, r.WithContext(ctx))
		}
		user, err := s.userFromRequest(r)
		if err != nil {
			return err
		}
		if user == nil {
			return errUnauthorized
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		return next.ServeHTTPWithError(w, r.WithContext(ctx))
	})
}

type sessionForm struct {
	Name     string `form:"name" json:"name"`
	Password string `form:"password" json:"password"`
}

func (s *Server) postSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var form sessionForm
		if err := s.bind(r, &form); err != nil {
			return err
		}
		user := s.authenticate(form.Name, form.Password)
		if user == nil {
			return &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "Name or password is incorrect."}
		}
		token := newID()
		s.mu.Lock()
		s.sessions[token] = user.Name
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   600, // nolint:gomnd
			HttpOnly: true,
		})
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    true,
			"name":  user.Name,
			"roles": user.Roles,
		})
	})
}

func (s *Server) getSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		user, err := s.userFromRequest(r)
		if err != nil {
			return err
		}
		info := map[string]interface{}{
			"authentication_handlers": []string{"cookie", "default"},
		}
		userCtx := map[string]interface{}{"name": nil, "roles": []string{}}
		if user != nil {
			userCtx["name"] = user.Name
			userCtx["roles"] = user.Roles
			info["authentication_db"] = "_users"
			info["authenticated"] = "default"
			if _, cookieErr := r.Cookie(sessionCookieName); cookieErr == nil && !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
				info["authenticated"] = "cookie"
			}
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"userCtx": userCtx,
			"info":    info,
		})
	})
}

func (s *Server) deleteSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			s.mu.Lock()
			delete(s.sessions, cookie.Value)
			s.mu.Unlock()
		}
		http.SetCookie(w, &http.Cookie{
			Name:   sessionCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		return serveJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	})
}

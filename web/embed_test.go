package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	h := SPAHandler()

	tests := []struct {
		path       string
		wantStatus int
		wantIndex  bool
	}{
		{"/", http.StatusOK, true},
		{"/practice/loops", http.StatusOK, true},
		{"/api/unknown", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := strings.Contains(w.Body.String(), `<div id="app">`); got != tt.wantIndex {
				t.Errorf("Expected index page served=%v, got %v", tt.wantIndex, got)
			}
		})
	}
}

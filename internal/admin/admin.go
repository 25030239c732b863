// Package admin implements the broker's minimal administration surface:
// an enumerate-clients call returning, for each registered client, its
// name, transport kind, source, and port, sorted by name.
package admin

import (
	"encoding/json"
	"net/http"

	"odin-busd/internal/broker"
)

// ClientInfo is the administration surface's view of one registered
// client.
type ClientInfo struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Source    string `json:"source,omitempty"`
	Port      string `json:"port,omitempty"`
}

// ListClients returns a name-sorted snapshot of every registered client.
func ListClients(db *broker.DB) []ClientInfo {
	handles := db.Enumerate()
	out := make([]ClientInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, ClientInfo{
			Name:      h.Name,
			Transport: string(h.Transport),
			Source:    h.Source,
			Port:      h.Port,
		})
	}
	return out
}

// Handler returns an http.Handler serving the enumerate-clients call as
// a JSON array at the mux path it is registered under.
func Handler(db *broker.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ListClients(db))
	})
}

package httpapi

import (
	"encoding/xml"
	"log"
	"net/http"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// streamURL points the telephony provider at the media-stream endpoint of the
// host it reached us through, unless a public host is configured.
func (s *Server) streamURL(r *http.Request) string {
	host := strings.TrimSpace(s.cfg.PublicHost)
	if host == "" {
		host = r.Host
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	return "wss://" + host + "/media-stream"
}

func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	body, err := xml.Marshal(twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: s.streamURL(r)}}})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_encode_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("incoming_call").Inc()
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append([]byte(xml.Header), body...)); err != nil {
		log.Printf("httpapi: write twiml: %v", err)
	}
}

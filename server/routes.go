package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/crafthub/plantilla/templates"
)

// Version is reported by the welcome route. Overwritten at build time.
var Version = "devel"

// RESTServer holds the configuration for a plantilla REST API server.
//
// Set all the public fields and then call Run. Run will listen on the
// given port and handle requests. Do not change any fields after calling
// Run.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string

	// Templates coordinates the record store and the blob store.
	// Run will panic if Templates is nil.
	Templates *templates.Manager

	// AdminKey guards the write routes. Requests must present it in the
	// X-Api-Key header. If empty the write routes are open to anyone.
	AdminKey string

	server httpdown.Server // used to close our listening socket
}

// Run starts the server. It blocks listening for and handling http
// requests until Stop is called.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Plantilla Server version %s", Version)

	if s.Templates == nil {
		panic("No stores given. Templates is nil.")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	if s.AdminKey == "" {
		log.Println("No admin key set. Write routes are open.")
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts down the listening socket and returns once all in-flight
// requests have finished.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method    string
		route     string
		writeOnly bool // true means the admin key is required
		handler   httprouter.Handle
	}{
		// reads. search and category listing ride on the collection
		// route as query parameters since httprouter will not mix
		// static and wildcard children under one prefix.
		{"GET", "/api/templates", false, s.ListTemplatesHandler},
		{"GET", "/api/templates/:id", false, s.GetTemplateHandler},
		{"GET", "/api/templates/:id/image", false, s.ImageHandler},
		{"GET", "/api/templates/:id/download", false, s.DownloadHandler},

		// writes
		{"POST", "/api/templates", true, s.CreateTemplateHandler},
		{"PUT", "/api/templates/:id", true, s.UpdateTemplateHandler},
		{"DELETE", "/api/templates/:id", true, s.DeleteTemplateHandler},

		// other
		{"GET", "/", false, WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.keyWrapper(route.handler, route.writeOnly)))
	}
	return r
}

// WelcomeHandler says hello.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Plantilla (%s)\n", Version)
}

// keyWrapper returns a handler which first checks the shared admin key
// when the route needs one.
func (s *RESTServer) keyWrapper(handler httprouter.Handle, protected bool) httprouter.Handle {
	if !protected {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.AdminKey != "" && r.Header.Get("X-Api-Key") != s.AdminKey {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

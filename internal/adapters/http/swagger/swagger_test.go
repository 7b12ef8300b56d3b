package swagger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given the docs handler", t, func() {
		h := Handler()

		convey.Convey("Then it should serve the OpenAPI document", func() {
			req := httptest.NewRequest("GET", SpecPath, http.NoBody)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "/api/events/batch")
		})

		convey.Convey("Then it should serve the ReDoc page", func() {
			req := httptest.NewRequest("GET", DocsPath, http.NoBody)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `spec-url="/openapi.yaml"`)
		})

		convey.Convey("Then other paths should be 404", func() {
			req := httptest.NewRequest("GET", "/api-docs/other", http.NoBody)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
		})
	})
}

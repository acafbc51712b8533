package dav

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/resolver"
)

func (h *Handlers) HandleCopy(w http.ResponseWriter, r *http.Request) {
	if err := h.copyMove(w, r, true); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if err := h.copyMove(w, r, false); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) copyMove(w http.ResponseWriter, r *http.Request, copy bool) error {
	src, err := h.res.Resolve(r.Context(), h.path(r), resolver.MustExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}

	destPath, err := h.destination(r)
	if err != nil {
		return err
	}
	overwrite := !strings.EqualFold(r.Header.Get("Overwrite"), "F")

	want := resolver.Unknown
	if src.Kind == resolver.KindCollection {
		want = resolver.WantCollection
	}
	dst, err := h.res.Resolve(r.Context(), destPath, resolver.MayExist, want, nil)
	if err != nil {
		return err
	}
	if dst.Exists && !overwrite {
		return derr.PreconditionFailed("destination exists")
	}
	if src.SameTarget(dst) {
		return derr.Forbidden("", "source and destination are the same resource")
	}

	switch src.Kind {
	case resolver.KindEntity:
		if dst.Kind != resolver.KindEntity {
			return derr.Conflict("destination is not inside a calendar collection")
		}
		if err := h.eng.CopyMoveEntity(r.Context(), src.Entity, dst.Col, dst.EntityName, copy, overwrite); err != nil {
			return mapEngineErr(err)
		}
	case resolver.KindResource:
		if dst.Kind != resolver.KindResource {
			return derr.Conflict("destination is not inside a folder collection")
		}
		if err := h.eng.CopyMoveResource(r.Context(), src.Resource, dst.Col, dst.ResourceName, copy, overwrite); err != nil {
			return mapEngineErr(err)
		}
	case resolver.KindCollection:
		if dst.Kind != resolver.KindCollection {
			return derr.Conflict("destination parent is not a collection")
		}
		if err := h.eng.CopyMoveCollection(r.Context(), src.Col, dst.Col, copy, overwrite); err != nil {
			return mapEngineErr(err)
		}
	default:
		return derr.Forbidden("", "principals cannot be copied or moved")
	}

	if dst.Exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// destination extracts the Destination header as a server-relative path.
func (h *Handlers) destination(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Destination"))
	if raw == "" {
		return "", derr.BadRequest("missing Destination header")
	}
	p := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", derr.BadRequest("bad Destination header")
		}
		p = u.Path
	}
	if h.basePath != "" && h.basePath != "/" {
		p = strings.TrimPrefix(p, h.basePath)
	}
	p = resolver.Normalize(p)
	if p == "" {
		return "", derr.BadRequest("bad Destination header")
	}
	return p, nil
}

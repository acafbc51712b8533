package dav

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// HandleGet serves calendar-object and binary resources with conditional
// request support.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	if err := h.get(w, r, true); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) HandleHead(w http.ResponseWriter, r *http.Request) {
	if err := h.get(w, r, false); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request, withBody bool) error {
	ref, err := h.res.Resolve(r.Context(), h.path(r), resolver.MustExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}
	if ref.IsPrincipal() || ref.IsCollection() {
		return derr.Forbidden("", "target has no retrievable representation")
	}

	n := node.For(h.eng, ref)
	if err := h.checkAccess(r, n, engine.PrivRead); err != nil {
		return err
	}

	etag, err := n.ETagValue(r.Context(), true)
	if err != nil {
		return derr.Wrap(err)
	}
	if inm := trimQuotes(r.Header.Get("If-None-Match")); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", n.ContentType())
	w.Header().Set("ETag", `"`+etag+`"`)
	setEntityHeaders(w, ref)

	if !withBody {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	return n.WriteContent(r.Context(), w, n.ContentType())
}

// HandlePut stores a calendar-object resource in a calendar collection or a
// binary resource elsewhere.
func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request) {
	if err := h.put(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) put(w http.ResponseWriter, r *http.Request) error {
	ref, err := h.res.Resolve(r.Context(), h.path(r), resolver.MayExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}

	maxBody := h.cfg.HTTP.MaxICSBytes
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return derr.BadRequest("unreadable body")
	}
	_ = r.Body.Close()
	if len(body) == 0 {
		return derr.BadRequest("empty body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return derr.Forbidden("", "payload too large")
	}

	switch ref.Kind {
	case resolver.KindEntity:
		return h.putEntity(w, r, ref, body)
	case resolver.KindResource:
		return h.putResource(w, r, ref, body)
	case resolver.KindCollection:
		// PUT on the collection itself stores a new entity named from its
		// UID.
		if ref.Col.EntitiesAllowed() {
			return h.putEntity(w, r, resolver.NamelessEntityRef(ref.Col, nil), body)
		}
		return derr.Forbidden("", "PUT target is a collection")
	default:
		return derr.Forbidden("", "PUT target is a collection")
	}
}

func (h *Handlers) putEntity(w http.ResponseWriter, r *http.Request, ref *resolver.Ref, body []byte) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "text/calendar") && !strings.HasPrefix(ct, "application/calendar") {
		return derr.Forbidden(derr.TagSupportedCalendarData, "unsupported media type "+ct)
	}

	if err := h.checkPreconditions(r, ref); err != nil {
		h.eng.Rollback(r.Context())
		return err
	}

	ent, err := h.eng.FromIcal(r.Context(), ref.Col, body, ct)
	if err != nil {
		return derr.Forbidden(derr.TagValidCalendarData, err.Error())
	}
	ent.Name = ref.EntityName
	if ent.Name == "" {
		ent.Name = ent.UID + ".ics"
	}

	if ref.Exists {
		if ref.Entity.UID != ent.UID {
			return derr.Forbidden(derr.TagNoUIDConflict, "resource holds a different UID")
		}
		if _, err := h.eng.CheckAccess(r.Context(), ref.Entity, engine.PrivWriteContent, false); err != nil {
			return mapEngineErr(err)
		}
		ent.ETag = ref.Entity.ETag
		ent.ScheduleTag = ref.Entity.ScheduleTag
		ent.Created = ref.Entity.Created
		if err := h.eng.UpdateEntity(r.Context(), ent); err != nil {
			return mapEngineErr(err)
		}
	} else {
		if _, err := h.eng.CheckAccess(r.Context(), ref.Col, engine.PrivBind, false); err != nil {
			return mapEngineErr(err)
		}
		if err := h.checkUIDConflict(r, ref, ent); err != nil {
			return err
		}
		if err := h.eng.AddEntity(r.Context(), ent); err != nil {
			return mapEngineErr(err)
		}
	}

	w.Header().Set("ETag", `"`+ent.ETag+`"`)
	if ent.IsSchedulingObject() && ent.ScheduleTag != "" {
		w.Header().Set("Schedule-Tag", `"`+ent.ScheduleTag+`"`)
	}
	if ref.Exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// checkUIDConflict rejects a create when the UID already lives in the
// collection under another name.
func (h *Handlers) checkUIDConflict(r *http.Request, ref *resolver.Ref, ent *engine.Entity) error {
	ents, err := h.eng.Entities(r.Context(), ref.Col, nil)
	if err != nil {
		return mapEngineErr(err)
	}
	for _, ex := range ents {
		if ex.UID == ent.UID && ex.Name != ent.Name {
			return derr.Forbidden(derr.TagNoUIDConflict, "UID already present as "+ex.Name)
		}
	}
	return nil
}

// checkPreconditions evaluates If-Match, If-None-Match: * and
// If-Schedule-Tag-Match against the resolved target.
func (h *Handlers) checkPreconditions(r *http.Request, ref *resolver.Ref) error {
	if r.Header.Get("If-None-Match") == "*" && ref.Exists {
		return derr.PreconditionFailed("resource already exists")
	}
	if match := trimQuotes(r.Header.Get("If-Match")); match != "" {
		if !ref.Exists {
			return derr.PreconditionFailed("no resource to match")
		}
		if etag := refETag(ref); etag != match {
			return derr.PreconditionFailed("etag mismatch")
		}
	}
	if match := trimQuotes(r.Header.Get("If-Schedule-Tag-Match")); match != "" {
		if !ref.Exists || ref.Entity == nil || ref.Entity.ScheduleTag != match {
			return derr.PreconditionFailed("schedule-tag mismatch")
		}
	}
	return nil
}

func (h *Handlers) putResource(w http.ResponseWriter, r *http.Request, ref *resolver.Ref, body []byte) error {
	if err := h.checkPreconditions(r, ref); err != nil {
		h.eng.Rollback(r.Context())
		return err
	}
	priv := engine.PrivBind
	if ref.Exists {
		priv = engine.PrivWriteContent
	}
	if _, err := h.eng.CheckAccess(r.Context(), ref.Col, priv, false); err != nil {
		return mapEngineErr(err)
	}

	res := ref.Resource
	if res == nil {
		res = &engine.Resource{Name: ref.ResourceName, CollectionPath: ref.Col.Path, Owner: ref.Col.Owner, New: true}
	}
	res.ContentType = r.Header.Get("Content-Type")
	res.Content = body
	res.Modified = time.Now().UTC()
	if res.Created.IsZero() {
		res.Created = res.Modified
	}
	if err := h.eng.PutResource(r.Context(), res); err != nil {
		return mapEngineErr(err)
	}

	w.Header().Set("ETag", `"`+res.ETag+`"`)
	if ref.Exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// HandleDelete removes the target. Entity deletes honour If-Match and the
// Schedule-Reply suppression header.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.del(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) del(w http.ResponseWriter, r *http.Request) error {
	ref, err := h.res.Resolve(r.Context(), h.path(r), resolver.MustExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}

	switch ref.Kind {
	case resolver.KindCollection:
		if _, err := h.eng.CheckAccess(r.Context(), ref.Col, engine.PrivUnbind, false); err != nil {
			return mapEngineErr(err)
		}
		if err := h.eng.DeleteCollection(r.Context(), ref.Col); err != nil {
			return mapEngineErr(err)
		}
	case resolver.KindEntity:
		if match := trimQuotes(r.Header.Get("If-Match")); match != "" && ref.Entity.ETag != match {
			return derr.PreconditionFailed("etag mismatch")
		}
		if _, err := h.eng.CheckAccess(r.Context(), ref.Entity, engine.PrivUnbind, false); err != nil {
			return mapEngineErr(err)
		}
		scheduleReply := !strings.EqualFold(r.Header.Get("Schedule-Reply"), "F")
		if err := h.eng.DeleteEntity(r.Context(), ref.Entity, scheduleReply); err != nil {
			return mapEngineErr(err)
		}
	case resolver.KindResource:
		if _, err := h.eng.CheckAccess(r.Context(), ref.Resource, engine.PrivUnbind, false); err != nil {
			return mapEngineErr(err)
		}
		if err := h.eng.DeleteResource(r.Context(), ref.Resource); err != nil {
			return mapEngineErr(err)
		}
	default:
		return derr.Forbidden("", "principals cannot be deleted here")
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleNotify feeds an XML POST body through the notification dispatcher.
func (h *Handlers) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.HTTP.MaxXMLBytes))
	if err != nil {
		h.writeError(w, r, derr.BadRequest("unreadable body"))
		return
	}
	_ = r.Body.Close()
	if err := h.notify.Process(r.Context(), body); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// checkAccess enforces the given privilege through the node's cached access
// result.
func (h *Handlers) checkAccess(r *http.Request, n node.Node, priv engine.Privilege) error {
	acc, err := n.CurrentAccess(r.Context())
	if err != nil {
		return derr.Wrap(err)
	}
	if acc != nil && !acc.Allowed {
		return derr.Forbidden("", "access denied")
	}
	return nil
}

func refETag(ref *resolver.Ref) string {
	switch {
	case ref.Entity != nil:
		return ref.Entity.ETag
	case ref.Resource != nil:
		return ref.Resource.ETag
	case ref.Col != nil:
		return ref.Col.ETag
	}
	return ""
}

func setEntityHeaders(w http.ResponseWriter, ref *resolver.Ref) {
	switch ref.Kind {
	case resolver.KindEntity:
		if !ref.Entity.Modified.IsZero() {
			w.Header().Set("Last-Modified", ref.Entity.Modified.UTC().Format(time.RFC1123))
		}
		if ref.Entity.IsSchedulingObject() && ref.Entity.ScheduleTag != "" {
			w.Header().Set("Schedule-Tag", `"`+ref.Entity.ScheduleTag+`"`)
		}
	case resolver.KindResource:
		if !ref.Resource.Modified.IsZero() {
			w.Header().Set("Last-Modified", ref.Resource.Modified.UTC().Format(time.RFC1123))
		}
	}
}

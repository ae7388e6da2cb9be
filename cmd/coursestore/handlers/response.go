package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/errs"
	"github.com/openlearn/coursestore/common/models"
)

// blockResponse renders a block with string-encoded keys, the only form
// clients ever see
func blockResponse(block *models.Block) map[string]interface{} {
	resp := map[string]interface{}{
		"key":      block.Key.String(),
		"category": block.Category,
	}
	if len(block.Fields) > 0 {
		resp["fields"] = block.Fields
	}
	if len(block.Children) > 0 {
		children := make([]string, 0, len(block.Children))
		for _, child := range block.Children {
			children = append(children, child.String())
		}
		resp["children"] = children
	}
	if block.Definition.DefinitionID != uuid.Nil {
		resp["definition"] = block.Definition.String()
	}
	if len(block.Inherited) > 0 {
		resp["inherited"] = block.Inherited
	}
	if block.IsDraft {
		resp["is_draft"] = true
	}
	if block.VersionGUID != uuid.Nil {
		resp["version_guid"] = block.VersionGUID
	}
	if block.EditedBy != "" {
		resp["edited_by"] = block.EditedBy
		resp["edited_at"] = block.EditedAt
	}
	return resp
}

func blockListResponse(blocks []*models.Block) []map[string]interface{} {
	resp := make([]map[string]interface{}, 0, len(blocks))
	for _, block := range blocks {
		resp = append(resp, blockResponse(block))
	}
	return resp
}

// httpError maps domain errors onto HTTP status codes
func httpError(err error) error {
	var (
		notFound     *errs.ItemNotFoundError
		noPath       *errs.NoPathToItemError
		invalidKey   *errs.InvalidKeyError
		insufficient *errs.InsufficientSpecificationError
		dupItem      *errs.DuplicateItemError
		dupCourse    *errs.DuplicateCourseError
		invalidVer   *errs.InvalidVersionError
		conflict     *errs.VersionConflictError
		notSupported *errs.NotSupportedError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noPath):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &invalidKey), errors.As(err, &insufficient), errors.As(err, &invalidVer):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &dupItem), errors.As(err, &dupCourse), errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &notSupported):
		return echo.NewHTTPError(http.StatusMethodNotAllowed, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// revisionPref maps the ?revision= query parameter onto a preference
func revisionPref(c echo.Context) (service.RevisionPreference, error) {
	switch c.QueryParam("revision") {
	case "", "preferred":
		return service.PreferDraft, nil
	case "published":
		return service.PublishedOnly, nil
	case "draft":
		return service.DraftOnly, nil
	default:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "revision must be preferred, published, or draft")
	}
}

// deleteScope maps the ?scope= query parameter onto a delete scope
func deleteScope(c echo.Context) (service.DeleteScope, error) {
	switch c.QueryParam("scope") {
	case "", "all":
		return service.DeleteAll, nil
	case "draft":
		return service.DeleteDraftOnly, nil
	case "published":
		return service.DeletePublishedOnly, nil
	default:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "scope must be all, draft, or published")
	}
}

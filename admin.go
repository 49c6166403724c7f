package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// -----------------------------
// Admin (capability URL) routes
// -----------------------------

// adminEvent resolves the :event param and checks the :token capability.
// A missing event and a wrong token get the same redirect and message, so
// probing URLs reveals nothing about which events exist.
func adminEvent(c *gin.Context) (*Event, bool) {
	ev, err := findEventByParam(c.Param("event"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, "/", "Invalid admin access.")
			return nil, false
		}
		renderStoreFailure(c, err)
		return nil, false
	}
	if !ev.IsAdmin(c.Param("token")) {
		redirectWithAlert(c, "/", "Invalid admin access.")
		return nil, false
	}
	return ev, true
}

func AdminShowEvent(c *gin.Context) {
	ev, ok := adminEvent(c)
	if !ok {
		return
	}

	var rsvps []Rsvp
	if err := DB.Preload("CustomFieldResponses.CustomField").
		Where("event_id = ?", ev.ID).Order("created_at asc").Find(&rsvps).Error; err != nil {
		renderStoreFailure(c, err)
		return
	}

	groups := make([]responseGroup, 0, len(RsvpResponses))
	for _, response := range RsvpResponses {
		group := responseGroup{Label: responseLabel(response)}
		for _, r := range rsvps {
			if r.Response != response {
				continue
			}
			group.Count++
			view := rsvpView{Name: r.Name, Hashid: r.Hashid()}
			for _, resp := range r.CustomFieldResponses {
				view.Answers = append(view.Answers, rsvpAnswer{
					Field: resp.CustomField.Name,
					Value: resp.FormattedValue(),
				})
			}
			group.Rsvps = append(group.Rsvps, view)
		}
		if group.Count > 0 {
			groups = append(groups, group)
		}
	}

	render(c, http.StatusOK, "admin_show.html", gin.H{
		"Event":     ev,
		"Param":     EventParam(ev),
		"AdminPath": adminPath(ev),
		"AdminURL":  cfg.BaseURL + adminPath(ev),
		"PublicURL": cfg.BaseURL + eventPath(ev),
		"Groups":    groups,
		"RsvpCount": len(rsvps),
	})
}

func AdminEditEvent(c *gin.Context) {
	ev, ok := adminEvent(c)
	if !ok {
		return
	}

	var fields []CustomField
	if err := DB.Where("event_id = ?", ev.ID).Order("sort_order asc, id asc").Find(&fields).Error; err != nil {
		renderStoreFailure(c, err)
		return
	}

	render(c, http.StatusOK, "admin_edit.html", gin.H{
		"Event":      ev,
		"AdminPath":  adminPath(ev),
		"Fields":     fields,
		"FieldTypes": FieldTypes,
		"Errors":     map[string]string{},
	})
}

func AdminUpdateEvent(c *gin.Context) {
	ev, ok := adminEvent(c)
	if !ok {
		return
	}

	var form EventForm
	if err := c.ShouldBind(&form); err != nil {
		redirectWithAlert(c, adminPath(ev), "Invalid form submission.")
		return
	}
	fieldForms := ParseCustomFieldForms(c.Request.PostForm)

	errs, date := form.Validate(false)
	for _, ff := range fieldForms {
		if msg := ff.Validate(); msg != "" {
			errs[fmt.Sprintf("custom_fields.%d", ff.Index)] = msg
		}
	}
	if len(errs) > 0 {
		var fields []CustomField
		if err := DB.Where("event_id = ?", ev.ID).Order("sort_order asc, id asc").Find(&fields).Error; err != nil {
			renderStoreFailure(c, err)
			return
		}
		render(c, http.StatusUnprocessableEntity, "admin_edit.html", gin.H{
			"Event":      ev,
			"AdminPath":  adminPath(ev),
			"Fields":     fields,
			"FieldTypes": FieldTypes,
			"Errors":     errs,
		})
		return
	}

	var startTime, endTime *string
	if form.StartTime != "" {
		startTime = &form.StartTime
	}
	if form.EndTime != "" {
		endTime = &form.EndTime
	}

	err := DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"title":           form.Title,
			"date":            date,
			"start_time":      startTime,
			"end_time":        endTime,
			"body":            form.Body,
			"show_rsvp_names": form.ShowRsvpNames,
		}
		if err := tx.Model(&Event{}).Where("id = ?", ev.ID).Updates(updates).Error; err != nil {
			return err
		}
		return reconcileCustomFields(tx, ev.ID, fieldForms)
	})
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	// Title may have changed, so rebuild the slugged path.
	ev.Title = form.Title
	redirectWithSuccess(c, adminPath(ev), "Event updated successfully!")
}

// reconcileCustomFields applies a three-way diff between the event's
// stored fields and the submitted rows: rows carrying a known id update in
// place, rows without one insert, stored fields absent from the request
// delete along with their responses. An empty request therefore clears all
// fields; the form cannot distinguish "absent" from "empty" and both mean
// the same thing here.
func reconcileCustomFields(tx *gorm.DB, eventID uint, fieldForms []CustomFieldForm) error {
	var existing []CustomField
	if err := tx.Where("event_id = ?", eventID).Find(&existing).Error; err != nil {
		return err
	}
	byID := make(map[uint]CustomField, len(existing))
	for _, f := range existing {
		byID[f.ID] = f
	}

	kept := make(map[uint]bool, len(fieldForms))
	for i, ff := range fieldForms {
		if cf, ok := byID[ff.ID]; ff.ID != 0 && ok {
			cf.Name = ff.Name
			cf.Type = ff.Type
			cf.Options = ff.Options()
			cf.Required = ff.Required
			cf.SortOrder = i
			if err := tx.Save(&cf).Error; err != nil {
				return err
			}
			kept[ff.ID] = true
			continue
		}

		cf := CustomField{
			EventID:   eventID,
			Name:      ff.Name,
			Type:      ff.Type,
			Options:   ff.Options(),
			Required:  ff.Required,
			SortOrder: i,
		}
		if err := tx.Create(&cf).Error; err != nil {
			return err
		}
	}

	var removed []uint
	for _, f := range existing {
		if !kept[f.ID] {
			removed = append(removed, f.ID)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := tx.Where("custom_field_id IN ?", removed).Delete(&CustomFieldResponse{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", removed).Delete(&CustomField{}).Error
}

func AdminDeleteEvent(c *gin.Context) {
	ev, ok := adminEvent(c)
	if !ok {
		return
	}

	err := DB.Transaction(func(tx *gorm.DB) error {
		var rsvpIDs []uint
		if err := tx.Model(&Rsvp{}).Where("event_id = ?", ev.ID).Pluck("id", &rsvpIDs).Error; err != nil {
			return err
		}
		if len(rsvpIDs) > 0 {
			if err := tx.Where("rsvp_id IN ?", rsvpIDs).Delete(&CustomFieldResponse{}).Error; err != nil {
				return err
			}
			if err := tx.Where("event_id = ?", ev.ID).Delete(&Rsvp{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("event_id = ?", ev.ID).Delete(&CustomField{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Event{}, ev.ID).Error
	})
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	redirectWithSuccess(c, "/", "Event deleted successfully.")
}

func AdminTogglePublish(c *gin.Context) {
	ev, ok := adminEvent(c)
	if !ok {
		return
	}

	published := !ev.Published
	if err := DB.Model(&Event{}).Where("id = ?", ev.ID).Update("published", published).Error; err != nil {
		renderStoreFailure(c, err)
		return
	}

	status := "unpublished"
	if published {
		status = "published"
	}
	redirectWithSuccess(c, adminPath(ev), "Event "+status+" successfully!")
}

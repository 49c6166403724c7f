package main

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func seedEvent(t *testing.T, fields ...CustomField) *Event {
	t.Helper()
	date, _ := time.Parse("2006-01-02", "2025-12-01")
	ev := &Event{
		Title:         "Board Game Night",
		Date:          date,
		Published:     true,
		ShowRsvpNames: true,
	}
	if err := DB.Create(ev).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	for i := range fields {
		fields[i].EventID = ev.ID
		fields[i].SortOrder = i
		if err := DB.Create(&fields[i]).Error; err != nil {
			t.Fatalf("create field: %v", err)
		}
	}
	return ev
}

func updateForm(ev *Event) url.Values {
	return url.Values{
		"_method":         {"PUT"},
		"title":           {ev.Title},
		"date":            {ev.Date.Format("2006-01-02")},
		"show_rsvp_names": {"true"},
	}
}

func TestAdminWrongTokenRedirects(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	for _, path := range []string{
		eventPath(ev) + "/admin/not-the-token",
		eventPath(ev) + "/admin/" + ev.AdminToken + "x",
		"/zzzzzzzz/admin/" + ev.AdminToken,
	} {
		wantRedirect(t, b.get(path), "/")
	}

	w := b.get(adminPath(ev))
	if w.Code != http.StatusOK {
		t.Fatalf("status with real token = %d", w.Code)
	}
}

func TestAdminShowListsRsvps(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	wantContains(t, b.get(adminPath(ev)), "RSVPs (0)")

	DB.Create(&Rsvp{EventID: ev.ID, Name: "Sam", Response: ResponseYes})
	DB.Create(&Rsvp{EventID: ev.ID, Name: "Alex", Response: ResponseNo})

	w := b.get(adminPath(ev))
	wantContains(t, w, "RSVPs (2)")
	wantContains(t, w, "Sam")
	wantContains(t, w, "Alex")
}

func TestAdminUpdateEvent(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	form := updateForm(ev)
	form.Set("title", "Board Game Evening")
	form.Set("start_time", "18:00")
	form.Set("end_time", "22:30")
	form.Set("body", "Bring snacks.")
	form.Del("show_rsvp_names")
	w := b.post(adminPath(ev), form)

	var got Event
	if err := DB.First(&got, ev.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if got.Title != "Board Game Evening" || got.Body != "Bring snacks." {
		t.Errorf("update not applied: %+v", got)
	}
	if got.StartTime == nil || *got.StartTime != "18:00" || got.EndTime == nil || *got.EndTime != "22:30" {
		t.Errorf("times = %v / %v", got.StartTime, got.EndTime)
	}
	if got.ShowRsvpNames {
		t.Error("show_rsvp_names not cleared")
	}

	// The redirect uses the fresh title's slug.
	wantRedirect(t, w, adminPath(&got))
}

func TestAdminUpdateRejectsEndBeforeStart(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	form := updateForm(ev)
	form.Set("start_time", "18:00")
	form.Set("end_time", "18:00")
	w := b.post(adminPath(ev), form)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	wantContains(t, w, "End time must be after start time.")
}

func TestAdminUpdateReconcilesCustomFields(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t,
		CustomField{Name: "Dietary needs", Type: FieldTypeText},
		CustomField{Name: "Guests", Type: FieldTypeNumber},
	)
	var fields []CustomField
	DB.Where("event_id = ?", ev.ID).Order("sort_order asc").Find(&fields)
	keepID, dropID := fields[0].ID, fields[1].ID

	rsvp := Rsvp{EventID: ev.ID, Name: "Sam", Response: ResponseYes}
	DB.Create(&rsvp)
	DB.Create(&CustomFieldResponse{RsvpID: rsvp.ID, CustomFieldID: keepID, Value: "vegetarian"})
	DB.Create(&CustomFieldResponse{RsvpID: rsvp.ID, CustomFieldID: dropID, Value: "2"})

	// Keep the first field under a new name, drop the second, add a third.
	form := updateForm(ev)
	form.Set("custom_fields[0][id]", strconv.FormatUint(uint64(keepID), 10))
	form.Set("custom_fields[0][name]", "Diet")
	form.Set("custom_fields[0][type]", FieldTypeText)
	form.Set("custom_fields[1][name]", "Song request")
	form.Set("custom_fields[1][type]", FieldTypeSelect)
	form.Set("custom_fields[1][options_text]", "Rock\nJazz\n")
	b := newBrowser(t)
	wantRedirect(t, b.post(adminPath(ev), form), adminPath(ev))

	var after []CustomField
	DB.Where("event_id = ?", ev.ID).Order("sort_order asc, id asc").Find(&after)
	if len(after) != 2 {
		t.Fatalf("fields after reconcile = %d, want 2", len(after))
	}
	if after[0].ID != keepID || after[0].Name != "Diet" {
		t.Errorf("kept field = %+v", after[0])
	}
	if after[1].Name != "Song request" || len(after[1].Options) != 2 || after[1].Options[0] != "Rock" {
		t.Errorf("new field = %+v", after[1])
	}

	// Responses follow their field: the dropped field's answers go with it.
	var responses []CustomFieldResponse
	DB.Where("rsvp_id = ?", rsvp.ID).Find(&responses)
	if len(responses) != 1 || responses[0].CustomFieldID != keepID {
		t.Errorf("responses after reconcile = %+v", responses)
	}
}

func TestAdminUpdateWithoutFieldsClearsAll(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t, CustomField{Name: "Dietary needs", Type: FieldTypeText})
	b := newBrowser(t)

	wantRedirect(t, b.post(adminPath(ev), updateForm(ev)), adminPath(ev))

	var count int64
	DB.Model(&CustomField{}).Where("event_id = ?", ev.ID).Count(&count)
	if count != 0 {
		t.Errorf("fields remaining = %d, want 0", count)
	}
}

func TestAdminUpdateRejectsChoiceWithoutOptions(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	form := updateForm(ev)
	form.Set("custom_fields[0][name]", "Song request")
	form.Set("custom_fields[0][type]", FieldTypeSelect)
	w := b.post(adminPath(ev), form)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	wantContains(t, w, "Choice fields need at least one option.")
}

func TestAdminTogglePublish(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t)
	b := newBrowser(t)

	wantRedirect(t, b.post(adminPath(ev)+"/toggle-publish", url.Values{}), adminPath(ev))
	var got Event
	DB.First(&got, ev.ID)
	if got.Published {
		t.Fatal("still published after toggle")
	}

	// The public page hides it; the admin page still works.
	wantRedirect(t, b.get(eventPath(ev)), "/")
	if w := b.get(adminPath(ev)); w.Code != http.StatusOK {
		t.Fatalf("admin page while unpublished = %d", w.Code)
	}

	b.post(adminPath(ev)+"/toggle-publish", url.Values{})
	DB.First(&got, ev.ID)
	if !got.Published {
		t.Fatal("not published after second toggle")
	}
}

func TestAdminDeleteEventCascades(t *testing.T) {
	setupTest(t)
	ev := seedEvent(t, CustomField{Name: "Dietary needs", Type: FieldTypeText})
	var field CustomField
	DB.Where("event_id = ?", ev.ID).First(&field)
	rsvp := Rsvp{EventID: ev.ID, Name: "Sam", Response: ResponseYes}
	DB.Create(&rsvp)
	DB.Create(&CustomFieldResponse{RsvpID: rsvp.ID, CustomFieldID: field.ID, Value: "vegan"})

	b := newBrowser(t)
	form := url.Values{"_method": {"DELETE"}}
	wantRedirect(t, b.post(adminPath(ev), form), "/")

	for name, count := range map[string]int64{
		"events":    tableCount(t, &Event{}),
		"fields":    tableCount(t, &CustomField{}),
		"rsvps":     tableCount(t, &Rsvp{}),
		"responses": tableCount(t, &CustomFieldResponse{}),
	} {
		if count != 0 {
			t.Errorf("%s remaining = %d, want 0", name, count)
		}
	}
}

func tableCount(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := DB.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// getAll reads at most this many documents per call
const firestoreBatchSize = 300

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Records are stored as JSON blobs next to the top-level fields queries need.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project ID may be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// decodeJSON unmarshals the "json" field of a document into dest.
func decodeJSON(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ListFields retrieves every catalog field.
func (f *FirestoreProvider) ListFields(ctx context.Context) ([]types.FieldDefinition, error) {
	return f.queryFields(ctx, f.client.Collection("fields").Query)
}

// FindFields retrieves the fields of a command service and path, oldest first.
func (f *FirestoreProvider) FindFields(ctx context.Context, svc types.CommandService, path string) ([]types.FieldDefinition, error) {
	q := f.client.Collection("fields").
		Where("commandService", "==", string(svc)).
		Where("pathExpression", "==", path)
	return f.queryFields(ctx, q)
}

func (f *FirestoreProvider) queryFields(ctx context.Context, q firestore.Query) ([]types.FieldDefinition, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	type created struct {
		field types.FieldDefinition
		at    time.Time
	}
	var all []created
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating fields: %w", err)
		}
		var fd types.FieldDefinition
		if err := decodeJSON(ctx, doc, &fd); err != nil {
			return nil, err
		}
		c := created{field: fd}
		if v, err := doc.DataAt("created"); err == nil {
			if t, ok := v.(time.Time); ok {
				c.at = t
			}
		}
		all = append(all, c)
	}
	// sorted here so the equality query doesn't need a composite index
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.Before(all[j].at)
		}
		return all[i].field.ID < all[j].field.ID
	})
	fields := make([]types.FieldDefinition, 0, len(all))
	for _, c := range all {
		fields = append(fields, c.field)
	}
	return fields, nil
}

// GetField retrieves a catalog field by id.
func (f *FirestoreProvider) GetField(ctx context.Context, id string) (types.FieldDefinition, error) {
	doc, err := f.client.Collection("fields").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.FieldDefinition{}, fmt.Errorf("%w: %s", ErrFieldNotFound, id)
		}
		return types.FieldDefinition{}, fmt.Errorf("failed to get field %s: %w", id, err)
	}
	var fd types.FieldDefinition
	if err := decodeJSON(ctx, doc, &fd); err != nil {
		return types.FieldDefinition{}, err
	}
	return fd, nil
}

// CreateField creates a new field document.
func (f *FirestoreProvider) CreateField(ctx context.Context, field types.FieldDefinition) error {
	jsonStr, err := marshalJSON(field)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", field.ID, err)
	}
	_, err = f.client.Collection("fields").Doc(field.ID).Create(ctx, map[string]interface{}{
		"json":           jsonStr,
		"commandService": string(field.CommandService),
		"pathExpression": field.PathExpression,
		"created":        firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to create field %s: %w", field.ID, err)
	}
	return nil
}

// UpdateField replaces an existing field, keeping its creation time.
func (f *FirestoreProvider) UpdateField(ctx context.Context, field types.FieldDefinition) error {
	jsonStr, err := marshalJSON(field)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", field.ID, err)
	}
	_, err = f.client.Collection("fields").Doc(field.ID).Update(ctx, []firestore.Update{
		{Path: "json", Value: jsonStr},
		{Path: "commandService", Value: string(field.CommandService)},
		{Path: "pathExpression", Value: field.PathExpression},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrFieldNotFound, field.ID)
		}
		return fmt.Errorf("failed to update field %s: %w", field.ID, err)
	}
	return nil
}

// DeleteFields deletes the given fields. Missing ones are ignored.
func (f *FirestoreProvider) DeleteFields(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := f.client.Collection("fields").Doc(id).Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete field %s: %w", id, err)
		}
	}
	return nil
}

// GetDevice retrieves a device from the "devices" collection.
func (f *FirestoreProvider) GetDevice(ctx context.Context, id string) (types.Device, error) {
	doc, err := f.client.Collection("devices").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", id, err)
	}
	var d types.Device
	if err := decodeJSON(ctx, doc, &d); err != nil {
		return types.Device{}, err
	}
	return d, nil
}

// ListDevices retrieves all devices. Malformed documents are skipped.
func (f *FirestoreProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	iter := f.client.Collection("devices").Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}
		var d types.Device
		if err := decodeJSON(ctx, doc, &d); err != nil {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// PutDevice creates or replaces a device.
func (f *FirestoreProvider) PutDevice(ctx context.Context, device types.Device) error {
	jsonStr, err := marshalJSON(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", device.ID, err)
	}
	_, err = f.client.Collection("devices").Doc(device.ID).Set(ctx, map[string]interface{}{
		"json": jsonStr,
	})
	if err != nil {
		return fmt.Errorf("failed to put device %s: %w", device.ID, err)
	}
	return nil
}

// SetDeviceInitialized flips the initialized flag of a device.
func (f *FirestoreProvider) SetDeviceInitialized(ctx context.Context, id string, initialized bool) error {
	ref := f.client.Collection("devices").Doc(id)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
			}
			return fmt.Errorf("failed to get device %s: %w", id, err)
		}
		var d types.Device
		if err := decodeJSON(ctx, doc, &d); err != nil {
			return err
		}
		d.Initialized = initialized
		jsonStr, err := marshalJSON(d)
		if err != nil {
			return fmt.Errorf("failed to marshal device %s: %w", id, err)
		}
		return tx.Set(ref, map[string]interface{}{"json": jsonStr})
	})
}

func (f *FirestoreProvider) decodeBoundVariable(ctx context.Context, doc *firestore.DocumentSnapshot) (types.BoundVariable, error) {
	var bv types.BoundVariable
	if err := decodeJSON(ctx, doc, &bv.Variable); err != nil {
		return bv, err
	}
	val, err := doc.DataAt("binding")
	if err != nil {
		return bv, nil
	}
	bindingStr, ok := val.(string)
	if !ok || bindingStr == "" {
		return bv, nil
	}
	var b types.VariableBinding
	if err := json.Unmarshal([]byte(bindingStr), &b); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal binding", slog.String("variableID", doc.Ref.ID), slog.Any("err", err))
		return bv, nil
	}
	if v, err := doc.DataAt("found"); err == nil {
		b.FoundInLastRequest, _ = v.(bool)
	}
	bv.Binding = &b
	return bv, nil
}

// ListVariables retrieves the variables of a device with their bindings.
func (f *FirestoreProvider) ListVariables(ctx context.Context, deviceID string) ([]types.BoundVariable, error) {
	iter := f.client.Collection("variables").Where("deviceID", "==", deviceID).Documents(ctx)
	defer iter.Stop()

	var vars []types.BoundVariable
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating variables: %w", err)
		}
		bv, err := f.decodeBoundVariable(ctx, doc)
		if err != nil {
			continue
		}
		vars = append(vars, bv)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Variable.Name < vars[j].Variable.Name })
	return vars, nil
}

// FindVariable retrieves a device variable by name.
func (f *FirestoreProvider) FindVariable(ctx context.Context, deviceID, name string) (types.Variable, bool, error) {
	iter := f.client.Collection("variables").
		Where("deviceID", "==", deviceID).
		Where("name", "==", name).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.Variable{}, false, nil
	}
	if err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to find variable %s: %w", name, err)
	}
	var v types.Variable
	if err := decodeJSON(ctx, doc, &v); err != nil {
		return types.Variable{}, false, err
	}
	return v, true, nil
}

// PutVariable creates or replaces a variable, keeping its binding.
func (f *FirestoreProvider) PutVariable(ctx context.Context, v types.Variable) error {
	jsonStr, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal variable %s: %w", v.ID, err)
	}
	_, err = f.client.Collection("variables").Doc(v.ID).Set(ctx, map[string]interface{}{
		"json":     jsonStr,
		"deviceID": v.DeviceID,
		"name":     v.Name,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to put variable %s: %w", v.ID, err)
	}
	return nil
}

// PutBinding sets the binding of an existing variable and clears its found
// flag.
func (f *FirestoreProvider) PutBinding(ctx context.Context, b types.VariableBinding) error {
	b.FoundInLastRequest = false
	jsonStr, err := marshalJSON(b)
	if err != nil {
		return fmt.Errorf("failed to marshal binding %s: %w", b.VariableID, err)
	}
	_, err = f.client.Collection("variables").Doc(b.VariableID).Update(ctx, []firestore.Update{
		{Path: "binding", Value: jsonStr},
		{Path: "found", Value: false},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrVariableNotFound, b.VariableID)
		}
		return fmt.Errorf("failed to put binding %s: %w", b.VariableID, err)
	}
	return nil
}

// RecordFound sets the found flag of each variable. Unknown variables are
// logged and skipped.
func (f *FirestoreProvider) RecordFound(ctx context.Context, found map[string]bool) error {
	for id, ok := range found {
		_, err := f.client.Collection("variables").Doc(id).Update(ctx, []firestore.Update{
			{Path: "found", Value: ok},
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				log.Ctx(ctx).WarnContext(ctx, "found flag for unknown variable", slog.String("variableID", id))
				continue
			}
			return fmt.Errorf("failed to record found flag of %s: %w", id, err)
		}
	}
	return nil
}

func (f *FirestoreProvider) points(variableID string) *firestore.CollectionRef {
	return f.client.Collection("variables").Doc(variableID).Collection("points")
}

// QueryPrevValue retrieves the timestamp of the last stored point of a variable.
func (f *FirestoreProvider) QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error) {
	// firestore automatically creates indexes for top-level fields
	iter := f.points(variableID).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest point of %s: %w", variableID, err)
	}
	ts, err := strconv.ParseInt(doc.Ref.ID, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid point doc id %s: %w", doc.Ref.ID, err)
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// Commit upserts points in the "points" sub-collection of the variable. The
// document ID is the epoch timestamp so resubmitted points overwrite
// themselves. Only new or changed points are written.
func (f *FirestoreProvider) Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error) {
	points = lastValues(points)

	coll := f.points(variableID)
	var changed []types.SeriesPoint
	for start := 0; start < len(points); start += firestoreBatchSize {
		end := min(start+firestoreBatchSize, len(points))
		refs := make([]*firestore.DocumentRef, 0, end-start)
		for _, p := range points[start:end] {
			refs = append(refs, coll.Doc(strconv.FormatInt(p.Timestamp, 10)))
		}
		snaps, err := f.client.GetAll(ctx, refs)
		if err != nil {
			return false, fmt.Errorf("failed to read points of %s: %w", variableID, err)
		}
		for i, snap := range snaps {
			p := points[start+i]
			if snap.Exists() {
				if v, err := snap.DataAt("value"); err == nil && v == p.Value {
					continue
				}
			}
			changed = append(changed, p)
		}
	}
	if len(changed) == 0 {
		return false, nil
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(changed))
	for _, p := range changed {
		job, err := bw.Set(coll.Doc(strconv.FormatInt(p.Timestamp, 10)), map[string]interface{}{
			"timestamp": p.Timestamp,
			"value":     p.Value,
		})
		if err != nil {
			bw.End()
			return false, fmt.Errorf("failed to queue point of %s: %w", variableID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return false, fmt.Errorf("failed to write point of %s: %w", variableID, err)
		}
	}
	return true, nil
}

// GetHistory retrieves the points of a variable within the time range.
func (f *FirestoreProvider) GetHistory(ctx context.Context, variableID string, start, end time.Time) ([]types.SeriesPoint, error) {
	iter := f.points(variableID).
		Where("timestamp", ">=", start.Unix()).
		Where("timestamp", "<", end.Unix()).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var points []types.SeriesPoint
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating points: %w", err)
		}
		ts, err := strconv.ParseInt(doc.Ref.ID, 10, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid point doc id", slog.String("docID", doc.Ref.ID), slog.String("variableID", variableID))
			continue
		}
		val, err := doc.DataAt("value")
		if err != nil {
			return nil, fmt.Errorf("point %s missing 'value' field: %w", doc.Ref.ID, err)
		}
		value, _ := val.(string)
		points = append(points, types.SeriesPoint{Timestamp: ts, Value: value})
	}
	return points, nil
}

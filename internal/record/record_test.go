package record

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFromDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: oid},
		{Key: "rid", Value: int32(7)},
		{Key: "name", Value: "x"},
		{Key: "score", Value: 1.5},
		{Key: "ok", Value: true},
		{Key: "missing", Value: nil},
		{Key: "tags", Value: bson.A{"a", int64(2)}},
		{Key: "meta", Value: bson.D{{Key: "k", Value: "v"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := FromDocument(raw)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	for _, f := range doc {
		switch v := f.Value.(type) {
		case ID:
			if f.Key != "_id" || string(v) != oid.Hex() {
				t.Errorf("%s: unexpected id %v", f.Key, v)
			}
		case Scalar:
			switch f.Key {
			case "rid":
				if v.V != int64(7) {
					t.Errorf("rid = %#v, want int64 7", v.V)
				}
			case "name", "score", "ok":
			default:
				t.Errorf("unexpected scalar %s", f.Key)
			}
		case Null:
			if f.Key != "missing" {
				t.Errorf("unexpected null %s", f.Key)
			}
		case Array:
			if len(v) != 2 || v.String() != `["a",2]` {
				t.Errorf("tags = %s", v)
			}
		case Document:
			if v.String() != `{"k":"v"}` {
				t.Errorf("meta = %s", v)
			}
		}
	}
	if id, ok := RecordID(doc, "rid"); !ok || id != 7 {
		t.Errorf("RecordID = %d, %v", id, ok)
	}
	if _, ok := RecordID(doc, "name"); ok {
		t.Error("a string is not a record identifier")
	}
	if _, ok := RecordID(doc, "nope"); ok {
		t.Error("missing field is not a record identifier")
	}
}

func TestFromExtJSON(t *testing.T) {
	doc, err := FromExtJSON([]byte(`{"a": {"b": [1, 2.5, null]}, "rid": {"$numberLong": "12"}}`))
	if err != nil {
		t.Fatalf("FromExtJSON: %v", err)
	}
	if got := doc.String(); got != `{"a":{"b":[1,2.5,null]},"rid":12}` {
		t.Errorf("String = %s", got)
	}
	if _, err := FromExtJSON([]byte(`{"a":`)); err == nil {
		t.Error("expected an error for truncated JSON")
	}
}

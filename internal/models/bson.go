package models

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// UnmarshalBSONValue приводит статус из базы к известному; остальное становится UNKNOWN.
func (s *SubtaskStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw, _ := bson.RawValue{Type: t, Value: data}.StringValueOK()
	*s = ParseSubtaskStatus(raw)
	return nil
}

// UnmarshalBSONValue приводит статус задачи из базы к известному; остальное становится UNKNOWN.
func (s *TaskStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw, _ := bson.RawValue{Type: t, Value: data}.StringValueOK()
	*s = ParseTaskStatus(raw)
	return nil
}

package validators

import "go.mongodb.org/mongo-driver/bson"

var SessionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"title",
			"start_time",
			"end_time",
			"capacity",
			"status",
			"version",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"title": bson.M{
				"bsonType":  "string",
				"minLength": 2,
				"maxLength": 200,
			},

			"title_key": bson.M{
				"bsonType": "string",
			},

			"description": bson.M{
				"bsonType":  "string",
				"maxLength": 2000,
			},

			"location": bson.M{
				"bsonType":  "string",
				"maxLength": 200,
			},

			"instructor": bson.M{
				"bsonType":  "string",
				"maxLength": 200,
			},

			"start_time": bson.M{
				"bsonType": "date",
			},

			"end_time": bson.M{
				"bsonType": "date",
			},

			"capacity": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
				"maximum":  10000,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"draft",
					"scheduled",
					"completed",
					"cancelled",
				},
			},

			"version": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

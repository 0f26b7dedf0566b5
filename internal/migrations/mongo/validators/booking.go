package validators

import "go.mongodb.org/mongo-driver/bson"

var BookingValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"session_id",
			"member_id",
			"num_spots",
			"status",
			"booked_at",
			"history",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"session_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"member_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"num_spots": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  1,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum":     bookingStatuses,
			},

			"booked_at": bson.M{
				"bsonType": "date",
			},

			"cancelled_at": bson.M{
				"bsonType": "date",
			},

			"checked_in_at": bson.M{
				"bsonType": "date",
			},

			"notes": bson.M{
				"bsonType":  "string",
				"maxLength": 500,
			},

			"history": bson.M{
				"bsonType": "array",
				"minItems": 1,
				"items": bson.M{
					"bsonType": "object",
					"required": []string{"status", "at"},
					"properties": bson.M{
						"status": bson.M{
							"bsonType": "string",
							"enum":     bookingStatuses,
						},
						"at": bson.M{
							"bsonType": "date",
						},
					},
				},
			},
		},
	},
}

var bookingStatuses = []string{
	"booked",
	"waitlist",
	"cancelled",
	"checked_in",
	"no_show",
}

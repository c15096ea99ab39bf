package databases

// go generate: mockery --name ShipmentDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/swifthaul/logistics-api/models"
)

const shipmentName = "shipments"

// ShipmentDatabase contains the methods to use with the shipment database
type ShipmentDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.Shipment, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Shipment, error)
	InsertOne(ctx context.Context, shipment models.Shipment) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type shipmentDatabase struct {
	db DatabaseHelper
}

// NewShipmentDatabase initializes a new instance of shipment database with the provided db connection
func NewShipmentDatabase(db DatabaseHelper) ShipmentDatabase {
	return &shipmentDatabase{
		db: db,
	}
}

func (s *shipmentDatabase) FindOne(ctx context.Context, filter interface{}) (*models.Shipment, error) {
	shipment := &models.Shipment{}
	err := s.db.Collection(shipmentName).FindOne(ctx, filter).Decode(&shipment)
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

func (s *shipmentDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := s.db.Collection(shipmentName).Find(ctx, filter, opts...).Decode(&shipments)
	if err != nil {
		return nil, err
	}
	return shipments, nil
}

func (s *shipmentDatabase) InsertOne(ctx context.Context, shipment models.Shipment) (InsertOneResultHelper, error) {
	res := s.db.Collection(shipmentName).InsertOne(ctx, shipment)
	return res, nil
}

func (s *shipmentDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := s.db.Collection(shipmentName).UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

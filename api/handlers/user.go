package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// User exported for testing purposes
type User struct {
	DB databases.UserDatabase
}

// UserHandler returns a user given a userID. Users can fetch their own
// record; admins can fetch anyone's. Password hashes never leave the service.
func (u User) UserHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	zap.S().Debugf("user_id: %v", userID)

	if !actorCanAccessUser(r, userID) {
		config.ErrorStatus("cannot access another user's record", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}

	uID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := u.DB.FindOne(context.Background(), bson.M{"_id": uID})
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return
	}
	dbResp.Details.Password = ""

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// MeHandler returns the authenticated user's own record.
func (u User) MeHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	uID, err := primitive.ObjectIDFromHex(uid)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := u.DB.FindOne(context.Background(), bson.M{"_id": uID})
	if err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return
	}
	dbResp.Details.Password = ""

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UsersHandler returns all users, optionally filtered by role
func (u User) UsersHandler(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)

	zap.S().Debugf("role: '%v'", role)

	filter := bson.M{}
	if role != "" {
		filter["user.role"] = role
	}

	dbResp, err := u.DB.Find(context.TODO(), filter, &options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get users", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements inside models.User exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.User{}
	}
	for i := range dbResp {
		dbResp[i].Details.Password = ""
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// DriversHandler returns the driver directory: every driver account with its
// assignment state, shaped for the dispatch screen.
func (u User) DriversHandler(w http.ResponseWriter, r *http.Request) {
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
	}
	limit64 := int64(Limit)
	Page = getPage(Page, r)
	skip64 := int64(Page * Limit)

	dbResp, err := u.DB.Find(context.TODO(), bson.M{"user.role": models.RoleDriver},
		&options.FindOptions{Limit: &limit64, Skip: &skip64})
	if err != nil {
		config.ErrorStatus("failed to get drivers", http.StatusNotFound, w, err)
		return
	}

	directory := make([]map[string]interface{}, 0, len(dbResp))
	for _, driver := range dbResp {
		directory = append(directory, map[string]interface{}{
			"id":                driver.ID.Hex(),
			"name":              driver.Details.Name,
			"email":             driver.Details.Email,
			"phone":             driver.Details.Phone,
			"assignedVehicleId": driver.Details.AssignedVehicleID,
			"assigned":          driver.Details.AssignedVehicleID != "",
			"active":            driver.Details.Active,
		})
	}

	b, err := json.Marshal(directory)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// updateProfileRequest carries the self-service profile fields. Role,
// password and assignment state all change through their own flows.
type updateProfileRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	ProfilePicture string `json:"profilePicture"`
}

// UpdateUserByIDHandler updates a user's profile fields
func (u User) UpdateUserByIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	if !actorCanAccessUser(r, userID) {
		config.ErrorStatus("cannot update another user's record", http.StatusForbidden, w, errors.New("forbidden"))
		return
	}

	uID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	set := bson.M{"user.updatedAt": primitive.NewDateTimeFromTime(time.Now())}
	if req.Name != "" {
		set["user.name"] = req.Name
	}
	if req.Phone != "" {
		set["user.phone"] = req.Phone
	}
	if req.ProfilePicture != "" {
		set["user.profilePicture"] = req.ProfilePicture
	}

	res, err := u.DB.UpdateOne(context.Background(), bson.M{"_id": uID}, bson.M{"$set": set})
	if err != nil {
		config.ErrorStatus("failed to update user", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, errors.New("no user matched"))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "User updated successfully",
	})
}

// actorCanAccessUser reports whether the authenticated principal may read or
// write the given user record: the user themselves, or any admin.
func actorCanAccessUser(r *http.Request, userID string) bool {
	info, err := api.Actor(r.Context())
	if err != nil {
		return false
	}
	if info.ID() == userID {
		return true
	}
	for _, group := range info.Groups() {
		if group == models.RoleAdmin {
			return true
		}
	}
	return false
}

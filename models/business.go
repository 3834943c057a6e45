package models

import (
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/optics_backend/utils"
)

const DefaultBusinessName = "My Business"

// Business is one partition of the user's document: a profile plus the
// record store it owns.
type Business struct {
	Id        int    `json:"id"`
	Name      string `json:"name"`
	GstNumber string `json:"gstNumber,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	State     string `json:"state,omitempty"`
	// Optional switch gate. Not a security boundary: anyone with the
	// document can read every business. The password is stored hashed.
	Username     string       `json:"username,omitempty"`
	PasswordHash string       `json:"password,omitempty"`
	Data         *RecordStore `json:"data"`
}

// NewBusiness is the caller-supplied profile for create/update.
type NewBusiness struct {
	Name      string `json:"name" validate:"required"`
	GstNumber string `json:"gstNumber"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	State     string `json:"state"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// BookSet maps business id to business. It is the unit of persistence:
// every save writes the whole set.
type BookSet map[int]*Business

// UserDocument is the wire shape of the persisted per-user document.
// JSON object keys are the stringified business ids.
type UserDocument struct {
	Businesses map[string]*Business `json:"businesses"`
}

func (b BookSet) ToDocument() *UserDocument {
	doc := &UserDocument{Businesses: make(map[string]*Business, len(b))}
	for id, biz := range b {
		doc.Businesses[strconv.Itoa(id)] = biz
	}
	return doc
}

func (d *UserDocument) ToBookSet() (BookSet, error) {
	books := BookSet{}
	if d == nil || d.Businesses == nil {
		return books, nil
	}
	for key, biz := range d.Businesses {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid business key %q: %w", key, err)
		}
		if biz.Data == nil {
			biz.Data = NewRecordStore()
		}
		if biz.Id == 0 {
			biz.Id = id
		}
		books[id] = biz
	}
	return books, nil
}

// NextBusinessId assigns max existing id + 1, or 1 if none.
func (b BookSet) NextBusinessId() int {
	next := 1
	for id := range b {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

func (b BookSet) MakeBusiness(input *NewBusiness) (*Business, error) {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, fmt.Errorf("invalid email %q", input.Email)
	}
	biz := &Business{
		Id:        b.NextBusinessId(),
		Name:      input.Name,
		GstNumber: input.GstNumber,
		Address:   input.Address,
		Phone:     input.Phone,
		Email:     input.Email,
		State:     input.State,
		Username:  input.Username,
		Data:      NewRecordStore(),
	}
	if input.Password != "" {
		hash, err := utils.HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		biz.PasswordHash = string(hash)
	}
	return biz, nil
}

func (biz *Business) applyProfilePatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "name":
			biz.Name, err = patchString(v)
		case "gstNumber":
			biz.GstNumber, err = patchString(v)
		case "address":
			biz.Address, err = patchString(v)
		case "phone":
			biz.Phone, err = patchString(v)
		case "email":
			biz.Email, err = patchString(v)
		case "state":
			biz.State, err = patchString(v)
		case "username":
			biz.Username, err = patchString(v)
		case "password":
			var pw string
			pw, err = patchString(v)
			if err == nil {
				if pw == "" {
					biz.PasswordHash = ""
				} else {
					var hash []byte
					hash, err = utils.HashPassword(pw)
					if err == nil {
						biz.PasswordHash = string(hash)
					}
				}
			}
		default:
			return fmt.Errorf("unknown field %q for business", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// CheckCredentials implements the soft switch gate. Businesses without
// a password accept any credentials.
func (biz *Business) CheckCredentials(username, password string) bool {
	if biz.PasswordHash == "" {
		return true
	}
	if biz.Username != "" && biz.Username != username {
		return false
	}
	return utils.ComparePassword(biz.PasswordHash, password) == nil
}

package models

// Requests for the treasury HTTP endpoints.

type RegisterAssetRequest struct {
	Address  string `json:"address" validate:"required"`
	CodeHash string `json:"code_hash"`
}

type AllocationRequest struct {
	Asset     string         `param:"asset" validate:"required"`
	Nick      string         `json:"nick"`
	Address   string         `json:"address" validate:"required"`
	CodeHash  string         `json:"code_hash"`
	AllocType AllocationType `json:"alloc_type" validate:"required,oneof=amount portion"`
	Amount    string         `json:"amount" validate:"required,amount"`
	Tolerance string         `json:"tolerance" default:"0" validate:"amount"`
}

type DepositRequest struct {
	Asset  string `param:"asset" validate:"required"`
	TxHash string `json:"tx_hash"`
	Sender string `json:"sender"`
	From   string `json:"from" validate:"required"`
	Amount string `json:"amount" validate:"required,amount"`
}

type AmountRequest struct {
	Asset  string `param:"asset" validate:"required"`
	Amount string `json:"amount" validate:"required,amount"`
}

type AssetRequest struct {
	Asset string `param:"asset" validate:"required"`
}

type HolderRequest struct {
	Holder string `json:"holder" param:"holder" validate:"required"`
}

type HolderAssetRequest struct {
	Holder string `param:"holder" validate:"required"`
	Asset  string `param:"asset" validate:"required"`
}

type ConfigRequest struct {
	Treasury          string `json:"treasury"`
	AdminAuthAddress  string `json:"admin_auth_address"`
	AdminAuthCodeHash string `json:"admin_auth_code_hash"`
}

type JournalRequest struct {
	Asset string `query:"asset"`
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

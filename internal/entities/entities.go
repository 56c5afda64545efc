// Package entities - хранимые таблицы игрового сервера.
package entities

import (
	"time"

	"realmdb/internal/entity"
)

// Account - учётная запись игрока.
type Account struct {
	entity.Base
	Name       string       `orm:"name,primary,varchar=64"`
	Password   string       `orm:"password,varchar=255"`
	PrivLevel  int          `orm:"priv_level"`
	CreatedAt  time.Time    `orm:"created_at,notnull"`
	LastLogin  *time.Time   `orm:"last_login"`
	Characters []*Character `rel:"local=name,remote=account_name,autoload,autodelete"`
}

// Character - персонаж. Ключ - object id: предметы и заклинания ссылаются на него.
type Character struct {
	entity.Base `orm:"table=character"`
	AccountName string `orm:"account_name,notnull,index,varchar=64,unique=slot"`
	Name        string `orm:"name,notnull,unique,varchar=24"`
	Realm       int    `orm:"realm,unique=slot"`
	AccountSlot int    `orm:"account_slot,unique=slot"`
	Class       int    `orm:"class"`
	Level       int    `orm:"level"`
	Experience  int64  `orm:"experience"`
	Gold        int64  `orm:"gold"`
	Region      int    `orm:"region"`

	Items  []*InventoryItem  `rel:"local=ObjectID,remote=owner_id,autoload,autodelete"`
	Spells []*CharacterSpell `rel:"local=ObjectID,remote=character_id,autoload,autodelete"`
	Mail   []*Mail           `rel:"local=name,remote=recipient,autodelete"`
}

// AddGold - правка с пометкой для цикла сохранения.
func (c *Character) AddGold(n int64) {
	c.Locked(func() { c.Gold += n })
	c.MarkDirty()
}

// SetLevel меняет уровень.
func (c *Character) SetLevel(level int) {
	c.Locked(func() { c.Level = level })
	c.MarkDirty()
}

// ItemTemplate - справочник предметов. Целиком в памяти.
type ItemTemplate struct {
	entity.Base `orm:"precache"`
	ID          string  `orm:"id,primary,varchar=64"`
	Name        string  `orm:"name,notnull,varchar=128"`
	Level       int     `orm:"level"`
	Weight      int     `orm:"weight"`
	Price       int64   `orm:"price"`
	Quality     float64 `orm:"quality"`
	Stackable   bool    `orm:"stackable"`
}

// InventoryItem - предмет у персонажа.
type InventoryItem struct {
	entity.Base
	ID         int64         `orm:"id,autoinc"`
	OwnerID    string        `orm:"owner_id,notnull,index,varchar=26"`
	TemplateID string        `orm:"template_id,notnull,varchar=64"`
	Slot       int           `orm:"slot"`
	Count      int           `orm:"count"`
	Template   *ItemTemplate `rel:"local=template_id,remote=id,autoload"`
}

// IsDirty: предмет без владельца в хранилище не попадает.
func (i *InventoryItem) IsDirty() bool {
	return i.DirtyIf(func() bool { return i.OwnerID != "" })
}

// SetCount меняет размер стопки.
func (i *InventoryItem) SetCount(n int) {
	i.Locked(func() { i.Count = n })
	i.MarkDirty()
}

// Spell - справочник заклинаний.
type Spell struct {
	entity.Base `orm:"precache"`
	ID          int64   `orm:"id,primary"`
	Name        string  `orm:"name,notnull,varchar=128"`
	Power       int     `orm:"power"`
	CastTime    float64 `orm:"cast_time"`
}

// CharacterSpell - выученное заклинание.
type CharacterSpell struct {
	entity.Base
	CharacterID string `orm:"character_id,notnull,index,varchar=26,unique=learned"`
	SpellID     int64  `orm:"spell_id,notnull,unique=learned"`
	Level       int    `orm:"level"`
	Spell       *Spell `rel:"local=spell_id,remote=id,autoload"`
}

// Mail - письмо. Пишется явным Save, а не циклом.
type Mail struct {
	entity.Base `orm:"noautosave"`
	ID          int64     `orm:"id,autoinc"`
	Recipient   string    `orm:"recipient,notnull,index,varchar=24"`
	Sender      string    `orm:"sender,varchar=24"`
	Subject     string    `orm:"subject,varchar=128"`
	Body        string    `orm:"body"`
	SentAt      time.Time `orm:"sent_at,notnull"`
	Read        bool      `orm:"read"`
}

// All - образцы всех таблиц для регистрации.
func All() []entity.Tracked {
	return []entity.Tracked{
		&Account{}, &Character{}, &ItemTemplate{}, &InventoryItem{},
		&Spell{}, &CharacterSpell{}, &Mail{}, &CharacterBackup{},
	}
}

package sqlinline

const QInsertProduct = `--sql c84f2f15-be2a-4216-b2e8-9c7ce4412903
insert into products(
  id,
  name,
  description,
  price_cents,
  category,
  status,
  images,
  metadata,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::bigint,
  $5::text,
  $6::text,
  $7::text[],
  $8::jsonb,
  now(),
  now()
) returning created_at, updated_at;
`

const QSelectProductByID = `--sql 95e43b9a-1fd8-4425-8810-003cf6994d3f
select id, name, description, price_cents, category, status, images, metadata, created_at, updated_at
from products
where id = $1::uuid
limit 1;
`

const QAppendProductImage = `--sql f0604e9f-95bf-49fb-b2a9-e47340e5a384
update products
set images = array_append(images, $2::text),
    updated_at = now()
where id = $1::uuid
  and not ($2::text = any(images));
`

const QRemoveProductImage = `--sql b1fba68d-517f-4f0e-8116-6cb12f5fdf6f
update products
set images = array_remove(images, $2::text),
    updated_at = now()
where id = $1::uuid;
`

const QActivateProduct = `--sql c4333a9e-d2a0-46a6-9444-b6183e3041aa
update products
set status = 'active',
    images = $2::text[],
    updated_at = now()
where id = $1::uuid
  and status = 'draft';
`

const QDeleteDraftProduct = `--sql 7a3e9c14-5b2f-4d86-a0c1-e6f84b29d357
delete from products p
where p.id = $1::uuid
  and p.status = 'draft'
  and not exists (select 1 from product_jobs j where j.product_id = p.id);
`
